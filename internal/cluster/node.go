// Package cluster runs a replication node: it accepts and dials peer
// connections, keeps one connection per link key and fans local mutations
// out to every live peer.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunnelmesh/aaarepl/internal/discovery"
	"github.com/tunnelmesh/aaarepl/internal/peer/connection"
	"github.com/tunnelmesh/aaarepl/internal/replication"
)

// DefaultListenAddr is the well-known replication port every node binds.
const DefaultListenAddr = ":7780"

var (
	// ErrNotRunning is returned by operations on a node that is not started
	// or already shut down.
	ErrNotRunning = errors.New("node not running")

	// ErrDuplicateConnection is returned when a link with the same key is
	// already in the table. The new connection has been closed.
	ErrDuplicateConnection = errors.New("duplicate connection")
)

// Config holds node configuration.
type Config struct {
	ListenAddr string
	Registry   *replication.Registry
	Listener   connection.Listener

	QueueSize    int
	Backpressure connection.Backpressure
	MaxFrameSize int
	WriteTimeout time.Duration
	DialTimeout  time.Duration

	// RedialInterval enables the redial loop when positive and Sources is
	// not empty.
	RedialInterval time.Duration
	Sources        []discovery.Source

	// Observers receive transitions of every connection the node owns.
	Observers []connection.Observer

	Logger zerolog.Logger
}

// PeerError describes a failed delivery to one peer during Publish.
type PeerError struct {
	Key    string
	Remote string
	Err    error
}

func (e PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Remote, e.Err)
}

func (e PeerError) Unwrap() error {
	return e.Err
}

// PublishResult reports the outcome of a broadcast.
type PublishResult struct {
	Delivered int
	Failed    []PeerError
}

// Stats contains node-level counters.
type Stats struct {
	Accepted        uint64
	Dialed          uint64
	DialFailures    uint64
	Duplicates      uint64
	Published       uint64
	PublishFailures uint64
	Evicted         uint64
}

type stats struct {
	accepted        atomic.Uint64
	dialed          atomic.Uint64
	dialFailures    atomic.Uint64
	duplicates      atomic.Uint64
	published       atomic.Uint64
	publishFailures atomic.Uint64
	evicted         atomic.Uint64
}

// Node is one member of the replication cluster.
type Node struct {
	cfg    Config
	logger zerolog.Logger
	conns  *table
	stats  stats

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewNode creates a node. Start must be called before it accepts or dials.
func NewNode(cfg Config) (*Node, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("node config: registry is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &Node{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "cluster-node").Logger(),
		conns:  newTable(),
	}, nil
}

// Start binds the listen address and launches the accept loop and, if
// configured, the redial loop. Bind failure wraps replication.ErrBindFailed.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener != nil {
		return fmt.Errorf("node already started")
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w: %w", n.cfg.ListenAddr, replication.ErrBindFailed, err)
	}

	n.listener = ln
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.running.Store(true)

	n.logger.Info().Str("addr", ln.Addr().String()).Msg("replication node listening")
	n.logger.Warn().Msg("replication transport is plain TCP without authentication; restrict the port to trusted networks")

	n.wg.Add(1)
	go n.acceptLoop(ln)

	if n.cfg.RedialInterval > 0 && len(n.cfg.Sources) > 0 {
		n.wg.Add(1)
		go n.redialLoop(n.ctx)
	}

	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Running reports whether the node is started and not shut down.
func (n *Node) Running() bool {
	return n.running.Load()
}

func (n *Node) acceptLoop(ln net.Listener) {
	defer n.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !n.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			n.logger.Warn().Err(err).Msg("accept failed")
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		pc := connection.NewInbound(conn, n.connConfig())
		if err := n.adopt(pc); err != nil {
			n.logger.Debug().Err(err).Str("remote", pc.Remote()).Msg("rejected inbound connection")
			continue
		}
		n.stats.accepted.Add(1)
	}
}

// Dial opens an outbound connection to addr and adds it to the table.
func (n *Node) Dial(ctx context.Context, addr string) (*connection.PeerConnection, error) {
	if !n.running.Load() {
		return nil, ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()

	pc := connection.NewOutbound(addr, n.connConfig())
	if err := pc.Dial(ctx); err != nil {
		n.stats.dialFailures.Add(1)
		return nil, err
	}

	if err := n.adopt(pc); err != nil {
		return nil, err
	}
	n.stats.dialed.Add(1)

	n.logger.Info().Str("remote", addr).Str("key", pc.Key()).Msg("connected to peer")
	return pc, nil
}

// adopt inserts pc into the table and starts its loops. The connection is
// closed if its key is already present or the node is shutting down.
func (n *Node) adopt(pc *connection.PeerConnection) error {
	if !n.conns.insert(pc) {
		_ = pc.Close()
		if !n.running.Load() {
			return ErrNotRunning
		}
		n.stats.duplicates.Add(1)
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, pc.Key())
	}

	if err := pc.Start(); err != nil {
		n.conns.remove(pc.Key(), pc.ID())
		_ = pc.Close()
		return err
	}
	return nil
}

func (n *Node) connConfig() connection.Config {
	observers := make([]connection.Observer, 0, len(n.cfg.Observers)+1)
	observers = append(observers, connection.ObserverFunc(n.onTransition))
	observers = append(observers, n.cfg.Observers...)

	return connection.Config{
		Registry:     n.cfg.Registry,
		Listener:     n.cfg.Listener,
		QueueSize:    n.cfg.QueueSize,
		Backpressure: n.cfg.Backpressure,
		MaxFrameSize: n.cfg.MaxFrameSize,
		WriteTimeout: n.cfg.WriteTimeout,
		Observers:    observers,
		Logger:       n.cfg.Logger,
	}
}

// onTransition removes closed connections from the table.
func (n *Node) onTransition(t connection.Transition) {
	if t.To != connection.StateClosed || t.Key == "" {
		return
	}
	if n.conns.remove(t.Key, t.ID) != nil {
		n.logger.Info().
			Str("key", t.Key).
			Str("reason", t.Reason).
			Msg("peer connection removed")
	}
}

// Publish encodes obj once and sends it to every live connection. Delivery
// failures are collected per peer and the failing connections are evicted;
// the remaining peers still receive the frame. An encoding error or an
// envelope larger than MaxFrameSize is returned before anything is sent.
func (n *Node) Publish(op replication.Operation, obj any) (*PublishResult, error) {
	if !n.running.Load() {
		return nil, ErrNotRunning
	}

	buf, err := replication.Encode(n.cfg.Registry, op, obj)
	if err != nil {
		return nil, err
	}
	if err := replication.CheckFrameSize(buf, n.cfg.MaxFrameSize); err != nil {
		return nil, err
	}

	result := &PublishResult{}
	for _, pc := range n.conns.list() {
		if err := pc.SendFrame(buf); err != nil {
			result.Failed = append(result.Failed, PeerError{Key: pc.Key(), Remote: pc.Remote(), Err: err})
			n.evict(pc, err)
			continue
		}
		result.Delivered++
	}

	n.stats.published.Add(1)
	if len(result.Failed) > 0 {
		n.stats.publishFailures.Add(uint64(len(result.Failed)))
		n.logger.Warn().
			Str("op", op.String()).
			Int("delivered", result.Delivered).
			Int("failed", len(result.Failed)).
			Msg("publish partially failed")
	}

	return result, nil
}

// evict drops a broken connection from the table. Closing happens in the
// background so Publish may be called from a Listener.
func (n *Node) evict(pc *connection.PeerConnection, cause error) {
	if n.conns.remove(pc.Key(), pc.ID()) == nil {
		return
	}
	n.stats.evicted.Add(1)
	n.logger.Warn().Err(cause).Str("remote", pc.Remote()).Str("key", pc.Key()).Msg("evicting peer after write failure")
	go func() { _ = pc.Close() }()
}

// Connections returns a snapshot of the live connections sorted by key.
func (n *Node) Connections() []*connection.PeerConnection {
	return n.conns.list()
}

// Connection returns the connection for key, or nil.
func (n *Node) Connection(key string) *connection.PeerConnection {
	return n.conns.get(key)
}

// NumConnections returns the number of connections in the table.
func (n *Node) NumConnections() int {
	return n.conns.size()
}

// CountByState returns the number of table entries in the given state.
func (n *Node) CountByState(state connection.State) int {
	return n.conns.countByState(state)
}

// AllInfo returns information about all connections.
func (n *Node) AllInfo() []connection.ConnectionInfo {
	conns := n.conns.list()
	infos := make([]connection.ConnectionInfo, 0, len(conns))
	for _, pc := range conns {
		infos = append(infos, pc.Info())
	}
	return infos
}

// Stats returns a snapshot of the node counters.
func (n *Node) Stats() Stats {
	return Stats{
		Accepted:        n.stats.accepted.Load(),
		Dialed:          n.stats.dialed.Load(),
		DialFailures:    n.stats.dialFailures.Load(),
		Duplicates:      n.stats.duplicates.Load(),
		Published:       n.stats.published.Load(),
		PublishFailures: n.stats.publishFailures.Load(),
		Evicted:         n.stats.evicted.Load(),
	}
}

// Shutdown stops accepting, stops the redial loop and closes every
// connection. It blocks until all node goroutines have exited.
func (n *Node) Shutdown() {
	if !n.running.CompareAndSwap(true, false) {
		return
	}

	n.logger.Info().Msg("shutting down replication node")

	n.cancel()

	n.mu.Lock()
	ln := n.listener
	n.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	n.wg.Wait()
	n.conns.closeAll()

	n.logger.Info().Msg("replication node stopped")
}
