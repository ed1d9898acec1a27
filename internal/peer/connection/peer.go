// Package connection manages a single replication link to a cluster peer:
// its lifecycle state, the read loop that pulls frames off the transport and
// the process loop that decodes them and hands them to the local store.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tunnelmesh/aaarepl/internal/replication"
)

// Listener applies replicated mutations to the local store. It runs on the
// connection's process loop and must not block indefinitely.
type Listener interface {
	OnReceived(obj any, op replication.Operation)
}

// ListenerFunc is an adapter that allows using ordinary functions as Listeners.
type ListenerFunc func(obj any, op replication.Operation)

// OnReceived implements the Listener interface.
func (f ListenerFunc) OnReceived(obj any, op replication.Operation) {
	f(obj, op)
}

// Direction records which side opened the link.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Config holds configuration shared by inbound and outbound connections.
type Config struct {
	Registry     *replication.Registry
	Listener     Listener
	QueueSize    int
	Backpressure Backpressure
	MaxFrameSize int
	WriteTimeout time.Duration
	Observers    []Observer
	Logger       zerolog.Logger
}

// Stats contains per-connection counters.
type Stats struct {
	FramesReceived uint64
	FramesSent     uint64
	BytesReceived  uint64
	BytesSent      uint64
	Applied        uint64
	Dropped        uint64 // evicted by drop-oldest backpressure
	DecodeErrors   uint64
	UnknownTypes   uint64
	ListenerPanics uint64
}

type stats struct {
	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
	bytesReceived  atomic.Uint64
	bytesSent      atomic.Uint64
	applied        atomic.Uint64
	decodeErrors   atomic.Uint64
	unknownTypes   atomic.Uint64
	listenerPanics atomic.Uint64
}

// PeerConnection owns exactly one transport to a peer. Frames read from the
// transport are queued and applied by a separate process loop.
type PeerConnection struct {
	mu sync.RWMutex

	// Identity
	id        string
	key       string
	direction Direction
	local     string
	remote    string
	target    string // dial address of an outbound link

	// State
	state     State
	lastError error
	conn      net.Conn

	cfg    Config
	logger zerolog.Logger
	queue  *frameQueue
	stats  stats

	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	loops     sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	// Timestamps
	createdAt      time.Time
	lastTransition time.Time
	openedAt       time.Time
}

func newPeerConnection(cfg Config, direction Direction, remote string, state State) *PeerConnection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	id := uuid.NewString()

	return &PeerConnection{
		id:             id,
		direction:      direction,
		remote:         remote,
		state:          state,
		cfg:            cfg,
		logger:         cfg.Logger.With().Str("component", "peer-connection").Str("conn_id", id).Str("remote", remote).Logger(),
		queue:          newFrameQueue(cfg.QueueSize, cfg.Backpressure),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		createdAt:      now,
		lastTransition: now,
	}
}

// NewInbound wraps an accepted transport. The connection starts Open.
func NewInbound(conn net.Conn, cfg Config) *PeerConnection {
	pc := newPeerConnection(cfg, Inbound, conn.RemoteAddr().String(), StateOpen)
	pc.attach(conn)
	pc.openedAt = pc.createdAt
	return pc
}

// NewOutbound creates a connection in the Connecting state. Call Dial to
// establish the transport.
func NewOutbound(remote string, cfg Config) *PeerConnection {
	pc := newPeerConnection(cfg, Outbound, remote, StateConnecting)
	pc.target = remote
	return pc
}

func (pc *PeerConnection) attach(conn net.Conn) {
	pc.conn = conn
	pc.local = conn.LocalAddr().String()
	pc.remote = conn.RemoteAddr().String()
	pc.key = Key(pc.local, pc.remote)
	pc.logger = pc.logger.With().Str("key", pc.key).Logger()
}

// Dial establishes the outbound transport and transitions to Open. On
// failure the connection is Closed.
func (pc *PeerConnection) Dial(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", pc.target)
	if err != nil {
		_ = pc.TransitionTo(StateClosed, "dial failed", err)
		pc.finish()
		return fmt.Errorf("dial %s: %w", pc.target, err)
	}

	pc.mu.Lock()
	pc.attach(conn)
	pc.mu.Unlock()

	if err := pc.TransitionTo(StateOpen, "dial succeeded", nil); err != nil {
		// Closed while dialing
		_ = conn.Close()
		return err
	}

	pc.mu.Lock()
	pc.openedAt = time.Now()
	pc.mu.Unlock()
	return nil
}

// ID returns the unique identifier of this connection instance.
func (pc *PeerConnection) ID() string {
	return pc.id
}

// Key returns the symmetric link key. Empty until the transport exists.
func (pc *PeerConnection) Key() string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.key
}

// Remote returns the peer's address.
func (pc *PeerConnection) Remote() string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.remote
}

// Target returns the address an outbound connection was dialed with, before
// name resolution. It is empty for inbound connections.
func (pc *PeerConnection) Target() string {
	return pc.target
}

// Local returns the local address of the transport.
func (pc *PeerConnection) Local() string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.local
}

// Direction returns which side opened the link.
func (pc *PeerConnection) Direction() Direction {
	return pc.direction
}

// State returns the current connection state.
func (pc *PeerConnection) State() State {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.state
}

// LastError returns the last error that caused a state transition.
func (pc *PeerConnection) LastError() error {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.lastError
}

// Done is closed once both loops have exited and the connection is Closed.
func (pc *PeerConnection) Done() <-chan struct{} {
	return pc.done
}

// AddObserver adds an observer to receive state change notifications.
func (pc *PeerConnection) AddObserver(o Observer) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cfg.Observers = append(pc.cfg.Observers, o)
}

// TransitionTo attempts to transition to the target state.
// On success, notifies all observers of the transition.
func (pc *PeerConnection) TransitionTo(target State, reason string, err error) error {
	pc.mu.Lock()

	from := pc.state
	if !from.CanTransitionTo(target) {
		pc.mu.Unlock()
		return NewTransitionError(from, target, pc.remote, "invalid transition")
	}

	now := time.Now()
	pc.state = target
	if err != nil {
		pc.lastError = err
	}
	pc.lastTransition = now

	transition := Transition{
		ID:        pc.id,
		Key:       pc.key,
		Remote:    pc.remote,
		From:      from,
		To:        target,
		Timestamp: now,
		Reason:    reason,
		Error:     err,
	}

	// Copy observers slice to avoid holding lock during callbacks
	observers := make([]Observer, len(pc.cfg.Observers))
	copy(observers, pc.cfg.Observers)
	logger := pc.logger

	pc.mu.Unlock()

	logEvent := logger.Debug().
		Str("from", from.String()).
		Str("to", target.String()).
		Str("reason", reason)
	if err != nil {
		logEvent = logEvent.Err(err)
	}
	logEvent.Msg("connection state transition")

	for _, o := range observers {
		o.OnTransition(transition)
	}

	return nil
}

// Start launches the read and process loops. It must be called once, after
// the connection is Open.
func (pc *PeerConnection) Start() error {
	pc.mu.Lock()
	if pc.started {
		pc.mu.Unlock()
		return fmt.Errorf("connection %s already started", pc.id)
	}
	if pc.state != StateOpen {
		state := pc.state
		pc.mu.Unlock()
		return fmt.Errorf("cannot start connection in state %s", state)
	}
	pc.started = true
	conn := pc.conn
	pc.mu.Unlock()

	pc.loops.Add(2)
	go pc.readLoop(conn)
	go pc.processLoop()

	go func() {
		pc.loops.Wait()
		pc.finish()
	}()

	return nil
}

// readLoop pulls complete frames off the transport and queues them.
func (pc *PeerConnection) readLoop(conn net.Conn) {
	defer pc.loops.Done()
	defer pc.queue.close()

	for {
		frame, err := replication.ReadFrame(conn, pc.cfg.MaxFrameSize)
		if err != nil {
			if pc.ctx.Err() != nil {
				return
			}

			if errors.Is(err, io.EOF) {
				pc.logger.Info().Msg("peer closed connection")
			} else {
				pc.logger.Warn().Err(err).Msg("read failed, closing connection")
			}
			readErr := fmt.Errorf("%w: %w", replication.ErrReadFailed, err)
			_ = pc.TransitionTo(StateDraining, "read loop ended", readErr)
			return
		}

		pc.stats.framesReceived.Add(1)
		pc.stats.bytesReceived.Add(uint64(len(frame)))

		dropped, err := pc.queue.push(pc.ctx, frame)
		if dropped {
			pc.logger.Warn().
				Int("queue_size", cap(pc.queue.ch)).
				Msg("queue full, dropped oldest frame")
		}
		if err != nil {
			return
		}
	}
}

// processLoop decodes queued frames and invokes the listener. It exits when
// the queue is closed and drained, or immediately when the connection is closed.
func (pc *PeerConnection) processLoop() {
	defer pc.loops.Done()

	for {
		select {
		case <-pc.ctx.Done():
			return
		case frame, ok := <-pc.queue.ch:
			if !ok {
				return
			}
			pc.apply(frame)
		}
	}
}

func (pc *PeerConnection) apply(frame []byte) {
	env, err := replication.Decode(pc.cfg.Registry, frame)
	if err != nil {
		if errors.Is(err, replication.ErrUnknownType) {
			pc.stats.unknownTypes.Add(1)
		} else {
			pc.stats.decodeErrors.Add(1)
		}
		pc.logger.Warn().Err(err).Int("size", len(frame)).Msg("dropping undecodable message")
		return
	}

	if pc.cfg.Listener == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			pc.stats.listenerPanics.Add(1)
			pc.logger.Error().
				Interface("panic", r).
				Str("type", env.Type).
				Str("op", env.Op.String()).
				Msg("listener panicked")
		}
	}()

	pc.cfg.Listener.OnReceived(env.Object, env.Op)
	pc.stats.applied.Add(1)

	pc.logger.Trace().
		Str("type", env.Type).
		Str("op", env.Op.String()).
		Msg("applied replicated object")
}

// Send encodes obj and writes it to the transport. Encoding errors are
// returned as-is; transport errors wrap replication.ErrWriteFailed.
func (pc *PeerConnection) Send(op replication.Operation, obj any) error {
	buf, err := replication.Encode(pc.cfg.Registry, op, obj)
	if err != nil {
		return err
	}
	return pc.SendFrame(buf)
}

// SendFrame writes an already encoded envelope. A payload larger than
// MaxFrameSize returns replication.ErrFrameTooLarge and leaves the link open.
func (pc *PeerConnection) SendFrame(payload []byte) error {
	if err := replication.CheckFrameSize(payload, pc.cfg.MaxFrameSize); err != nil {
		return err
	}

	pc.mu.RLock()
	state := pc.state
	conn := pc.conn
	remote := pc.remote
	pc.mu.RUnlock()

	if !state.IsActive() || conn == nil {
		return fmt.Errorf("send to %s: connection %s: %w", remote, state, replication.ErrWriteFailed)
	}

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	if pc.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(pc.cfg.WriteTimeout))
	}
	if err := replication.WriteFrame(conn, payload, pc.cfg.MaxFrameSize); err != nil {
		return fmt.Errorf("send to %s: %w: %w", remote, replication.ErrWriteFailed, err)
	}

	pc.stats.framesSent.Add(1)
	pc.stats.bytesSent.Add(uint64(len(payload)))
	return nil
}

// Close stops both loops and closes the transport. It is idempotent and
// blocks until the loops have exited. It must not be called from the Listener.
func (pc *PeerConnection) Close() error {
	pc.cancel()

	pc.mu.Lock()
	conn := pc.conn
	started := pc.started
	pc.mu.Unlock()

	var err error
	if conn != nil {
		// Unblocks the read loop
		err = conn.Close()
	}

	if started {
		<-pc.done
		return ignoreClosed(err)
	}

	pc.finish()
	return ignoreClosed(err)
}

// finish closes the transport and moves the connection to Closed. Runs once.
func (pc *PeerConnection) finish() {
	pc.closeOnce.Do(func() {
		pc.cancel()

		pc.mu.RLock()
		conn := pc.conn
		state := pc.state
		lastErr := pc.lastError
		pc.mu.RUnlock()

		if conn != nil {
			_ = conn.Close()
		}

		if !state.IsTerminal() {
			reason := "closed"
			if state == StateDraining {
				reason = "drained"
			}
			_ = pc.TransitionTo(StateClosed, reason, lastErr)
		}

		select {
		case <-pc.done:
		default:
			close(pc.done)
		}
	})
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Stats returns a snapshot of the connection counters.
func (pc *PeerConnection) Stats() Stats {
	return Stats{
		FramesReceived: pc.stats.framesReceived.Load(),
		FramesSent:     pc.stats.framesSent.Load(),
		BytesReceived:  pc.stats.bytesReceived.Load(),
		BytesSent:      pc.stats.bytesSent.Load(),
		Applied:        pc.stats.applied.Load(),
		Dropped:        pc.queue.dropped.Load(),
		DecodeErrors:   pc.stats.decodeErrors.Load(),
		UnknownTypes:   pc.stats.unknownTypes.Load(),
		ListenerPanics: pc.stats.listenerPanics.Load(),
	}
}

// ConnectionInfo contains snapshot information about a connection.
type ConnectionInfo struct {
	ID         string
	Key        string
	Local      string
	Remote     string
	Target     string
	Direction  Direction
	State      State
	LastError  error
	OpenedAt   time.Time
	QueueDepth int
	Stats      Stats
}

// Info returns a snapshot of the connection's current state.
func (pc *PeerConnection) Info() ConnectionInfo {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	return ConnectionInfo{
		ID:         pc.id,
		Key:        pc.key,
		Local:      pc.local,
		Remote:     pc.remote,
		Target:     pc.target,
		Direction:  pc.direction,
		State:      pc.state,
		LastError:  pc.lastError,
		OpenedAt:   pc.openedAt,
		QueueDepth: pc.queue.depth(),
		Stats:      pc.Stats(),
	}
}
