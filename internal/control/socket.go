// Package control provides a Unix socket server for CLI-to-node communication.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tunnelmesh/aaarepl/internal/auth"
	"github.com/tunnelmesh/aaarepl/internal/cluster"
	"github.com/tunnelmesh/aaarepl/internal/config"
	"github.com/tunnelmesh/aaarepl/internal/peer/connection"
)

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	return config.DefaultControlSocket
}

// Request types for control commands.
const (
	CmdStatus      = "node.status"
	CmdConnections = "node.connections"
	CmdDial        = "node.dial"
	CmdAuthCheck   = "auth.check"
)

// Timeouts for control socket operations.
const (
	// SocketDialTimeout is the timeout for connecting to the control socket.
	SocketDialTimeout = 5 * time.Second
	// SocketReadWriteTimeout is the timeout for reading/writing on the socket.
	SocketReadWriteTimeout = 5 * time.Second
	// PeerDialTimeout bounds a node.dial command.
	PeerDialTimeout = 4 * time.Second
)

// Node is the part of a cluster node the control server exposes.
type Node interface {
	Addr() net.Addr
	Stats() cluster.Stats
	AllInfo() []connection.ConnectionInfo
	Dial(ctx context.Context, addr string) (*connection.PeerConnection, error)
}

// Authorizer answers access questions from the node's replicated AAA store.
type Authorizer interface {
	Check(userID, verb, resource, domain string) auth.Decision
	GetUserRoles(userID string) []string
	IsAdmin(userID string) bool
	HasHumanAdmin() bool
}

// Request is a control command from the CLI.
type Request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a response to a control command.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// StatusResponse is the response for node.status.
type StatusResponse struct {
	Node        string         `json:"node"`
	Version     string         `json:"version"`
	Listen      string         `json:"listen"`
	Uptime      string         `json:"uptime"`
	Connections int            `json:"connections"`
	ByState     map[string]int `json:"by_state"`
	Stats       cluster.Stats  `json:"stats"`
	HumanAdmin  *bool          `json:"human_admin,omitempty"` // nil when the node serves no authorizer
}

// ConnectionDetail describes one connection for display.
type ConnectionDetail struct {
	ID         string           `json:"id"`
	Key        string           `json:"key"`
	Local      string           `json:"local"`
	Remote     string           `json:"remote"`
	Target     string           `json:"target,omitempty"`
	Direction  string           `json:"direction"`
	State      string           `json:"state"`
	LastError  string           `json:"last_error,omitempty"`
	OpenedAt   int64            `json:"opened_at"` // Unix timestamp, 0 = never opened
	QueueDepth int              `json:"queue_depth"`
	Stats      connection.Stats `json:"stats"`
}

// DialRequest is the payload for node.dial.
type DialRequest struct {
	Addr string `json:"addr"`
}

// CheckRequest is the payload for auth.check.
type CheckRequest struct {
	User     string `json:"user"`
	Verb     string `json:"verb"`
	Resource string `json:"resource"`
	Domain   string `json:"domain,omitempty"`
}

// CheckResponse is the response for auth.check.
type CheckResponse struct {
	auth.Decision
	Roles []string `json:"roles"`
	Admin bool     `json:"admin"`
}

// DialResponse is the response for node.dial.
type DialResponse struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

// Server is a Unix socket control server.
type Server struct {
	socketPath string
	node       Node
	authz      Authorizer
	name       string
	version    string
	started    time.Time
	listener   net.Listener
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer creates a new control server for node.
func NewServer(socketPath string, node Node, name, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		node:       node,
		name:       name,
		version:    version,
		started:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetAuthorizer enables auth.check. Call before Start.
func (s *Server) SetAuthorizer(a Authorizer) {
	s.authz = a
}

// Start begins listening on the control socket.
func (s *Server) Start() error {
	// Ensure parent directory exists
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove stale socket
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Restrict socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	log.Info().Str("path", s.socketPath).Msg("control socket listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the control server and removes the socket file.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Error().Err(err).Msg("control socket accept error")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketReadWriteTimeout + PeerDialTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.sendError(conn, fmt.Errorf("decode request: %w", err))
		return
	}

	resp := s.handleCommand(req)
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) handleCommand(req Request) Response {
	switch req.Command {
	case CmdStatus:
		return dataResponse(s.status())
	case CmdConnections:
		return dataResponse(s.connections())
	case CmdDial:
		return s.handleDial(req.Payload)
	case CmdAuthCheck:
		return s.handleAuthCheck(req.Payload)
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func dataResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("marshal response: %v", err)}
	}
	return Response{Success: true, Data: data}
}

func (s *Server) status() StatusResponse {
	infos := s.node.AllInfo()
	byState := make(map[string]int)
	for _, info := range infos {
		byState[info.State.String()]++
	}

	listen := ""
	if addr := s.node.Addr(); addr != nil {
		listen = addr.String()
	}

	return StatusResponse{
		Node:        s.name,
		Version:     s.version,
		Listen:      listen,
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
		Connections: len(infos),
		ByState:     byState,
		Stats:       s.node.Stats(),
		HumanAdmin:  s.humanAdmin(),
	}
}

func (s *Server) humanAdmin() *bool {
	if s.authz == nil {
		return nil
	}
	ok := s.authz.HasHumanAdmin()
	return &ok
}

func (s *Server) handleAuthCheck(payload json.RawMessage) Response {
	if s.authz == nil {
		return Response{Success: false, Error: "authorization is not available on this node"}
	}

	var req CheckRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return Response{Success: false, Error: fmt.Sprintf("invalid payload: %v", err)}
	}
	if req.User == "" || req.Verb == "" || req.Resource == "" {
		return Response{Success: false, Error: "user, verb and resource are required"}
	}

	roles := s.authz.GetUserRoles(req.User)
	sort.Strings(roles)
	return dataResponse(CheckResponse{
		Decision: s.authz.Check(req.User, req.Verb, req.Resource, req.Domain),
		Roles:    roles,
		Admin:    s.authz.IsAdmin(req.User),
	})
}

func (s *Server) connections() []ConnectionDetail {
	infos := s.node.AllInfo()
	details := make([]ConnectionDetail, 0, len(infos))
	for _, info := range infos {
		d := ConnectionDetail{
			ID:         info.ID,
			Key:        info.Key,
			Local:      info.Local,
			Remote:     info.Remote,
			Target:     info.Target,
			Direction:  info.Direction.String(),
			State:      info.State.String(),
			QueueDepth: info.QueueDepth,
			Stats:      info.Stats,
		}
		if info.LastError != nil {
			d.LastError = info.LastError.Error()
		}
		if !info.OpenedAt.IsZero() {
			d.OpenedAt = info.OpenedAt.Unix()
		}
		details = append(details, d)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Key < details[j].Key })
	return details
}

func (s *Server) handleDial(payload json.RawMessage) Response {
	var req DialRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return Response{Success: false, Error: fmt.Sprintf("invalid payload: %v", err)}
	}
	if _, _, err := net.SplitHostPort(req.Addr); err != nil {
		return Response{Success: false, Error: fmt.Sprintf("invalid address %q: %v", req.Addr, err)}
	}

	ctx, cancel := context.WithTimeout(s.ctx, PeerDialTimeout)
	defer cancel()

	pc, err := s.node.Dial(ctx, req.Addr)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}

	log.Info().Str("remote", req.Addr).Str("key", pc.Key()).Msg("dialed peer via control socket")
	return dataResponse(DialResponse{Key: pc.Key(), ID: pc.ID()})
}

func (s *Server) sendError(conn net.Conn, err error) {
	resp := Response{Success: false, Error: err.Error()}
	_ = json.NewEncoder(conn).Encode(resp)
}

// Client is a control socket client for CLI commands.
type Client struct {
	socketPath string
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Send sends a request and returns the response.
func (c *Client) Send(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, SocketDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to control socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketReadWriteTimeout + PeerDialTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &resp, nil
}

func (c *Client) call(command string, payload any, out any) error {
	req := Request{Command: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		req.Payload = data
	}

	resp, err := c.Send(req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Status retrieves node status.
func (c *Client) Status() (*StatusResponse, error) {
	var result StatusResponse
	if err := c.call(CmdStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Connections retrieves the node's connection table.
func (c *Client) Connections() ([]ConnectionDetail, error) {
	var result []ConnectionDetail
	if err := c.call(CmdConnections, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Dial asks the node to connect to addr.
func (c *Client) Dial(addr string) (*DialResponse, error) {
	var result DialResponse
	if err := c.call(CmdDial, DialRequest{Addr: addr}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Check asks the node whether user may perform verb on resource in domain.
func (c *Client) Check(req CheckRequest) (*CheckResponse, error) {
	var result CheckResponse
	if err := c.call(CmdAuthCheck, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
