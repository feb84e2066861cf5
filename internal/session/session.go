// Package session implements the connection state machine: it owns the
// transport, the receive buffer and the handshake gate queues.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/wirenet"
	"github.com/luciancaetano/wirenet/internal/buffer"
	"github.com/luciancaetano/wirenet/internal/dispatch"
	"github.com/luciancaetano/wirenet/internal/metrics"
	"github.com/luciancaetano/wirenet/internal/protocol"
	"github.com/luciancaetano/wirenet/internal/registry"
)

// ErrInvalidTransport is returned by New when no transport factory is set.
var ErrInvalidTransport = errors.New("invalid transport factory")

// Config configures a Session.
type Config struct {
	// Codec frames messages. Defaults to protocol.NewCodec().
	Codec wirenet.Codec
	// NewTransport creates the transport for each Init. Required.
	NewTransport func() wirenet.Transport
	// Logger defaults to wirenet.DefaultLogger().
	Logger wirenet.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// IsolateHandlerFailures keeps delivering a message to later handlers
	// after one fails.
	IsolateHandlerFailures bool
	// OnStatus is notified when the transport opens, closes or fails.
	OnStatus wirenet.StatusFunc
}

// Session implements wirenet.Connection.
type Session struct {
	codec        wirenet.Codec
	newTransport func() wirenet.Transport
	logger       wirenet.Logger
	metrics      *metrics.Metrics
	onStatus     wirenet.StatusFunc
	registry     *registry.Registry
	dispatcher   *dispatch.Dispatcher

	mu sync.Mutex
	// gen changes whenever the current transport is replaced or released.
	// Notifications and drains tagged with an older generation are ignored.
	gen           uint64
	id            string
	addr          string
	transport     wirenet.Transport
	state         wirenet.State
	authenticated bool
	ready         bool
	draining      bool
	disposed      bool
	acc           buffer.Accumulator
	pendingOut    []outgoing
	pendingIn     []wirenet.Wrapper
}

var _ wirenet.Connection = (*Session)(nil)

// New returns a Session in the disconnected state.
func New(cfg Config) (*Session, error) {
	if cfg.NewTransport == nil {
		return nil, ErrInvalidTransport
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.NewCodec()
	}
	if cfg.Logger == nil {
		cfg.Logger = wirenet.DefaultLogger()
	}

	reg := registry.New()
	return &Session{
		codec:        cfg.Codec,
		newTransport: cfg.NewTransport,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		onStatus:     cfg.OnStatus,
		registry:     reg,
		dispatcher:   dispatch.New(reg, dispatch.Config{Logger: cfg.Logger, Isolate: cfg.IsolateHandlerFailures}),
		id:           uuid.New().String(),
		state:        wirenet.StateDisconnected,
	}, nil
}

// ID returns the identifier of the current session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Init opens a new transport to addr, replacing the current one.
func (s *Session) Init(ctx context.Context, addr string) error {
	if addr == "" {
		return wirenet.ErrInvalidAddress
	}

	t := s.newTransport()

	s.mu.Lock()
	old := s.transport
	s.gen++
	gen := s.gen
	s.id = uuid.New().String()
	s.addr = addr
	s.transport = t
	s.state = wirenet.StateConnecting
	s.authenticated = false
	s.ready = false
	s.draining = false
	s.disposed = false
	s.resetQueuesLocked()
	id := s.id
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	s.logger.Debug("connecting", "connection_id", id, "addr", addr)

	if err := t.Open(ctx, addr, &events{s: s, gen: gen}); err != nil {
		err = fmt.Errorf("%w: open %s: %w", wirenet.ErrTransport, addr, err)

		s.mu.Lock()
		current := s.gen == gen
		if current {
			s.gen++
			s.transport = nil
			s.state = wirenet.StateErrored
		}
		s.mu.Unlock()

		_ = t.Close()
		if current {
			s.logger.Warn("connection failed", "connection_id", id, "addr", addr, "error", err)
			s.metrics.Failure(err)
			s.notify(wirenet.StatusEvent{ConnectionID: id, State: wirenet.StateErrored, Err: err})
		}
		return err
	}
	return nil
}

// Dispose releases the transport and drops everything pending.
func (s *Session) Dispose() {
	s.mu.Lock()
	t := s.transport
	id := s.id
	s.gen++
	s.transport = nil
	s.disposed = true
	s.draining = false
	s.state = wirenet.StateDisconnected
	s.resetQueuesLocked()
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
		s.logger.Debug("connection disposed", "connection_id", id)
	}
}

// MarkAuthenticated starts the handshake gate.
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.authenticated = true
}

// MarkReady opens the gate. Queued incoming messages are dispatched first,
// in arrival order, then queued outgoing batches are written in call order.
// Anything sent or received while the drain runs is queued behind them.
func (s *Session) MarkReady() {
	s.mu.Lock()
	if s.disposed || s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	s.draining = true
	gen := s.gen

	for len(s.pendingIn) > 0 {
		in := s.pendingIn
		s.pendingIn = nil
		s.metrics.Pending(metrics.Incoming, 0)
		s.mu.Unlock()

		s.dispatchAll(gen, in)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
	}

	out := s.pendingOut
	s.pendingOut = nil
	s.metrics.Pending(metrics.Outgoing, 0)
	s.writeBatchLocked(out)
	s.draining = false
	s.mu.Unlock()
}

// IsAuthenticated reports whether MarkAuthenticated was called.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// IsReady reports whether MarkReady was called.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// State returns the lifecycle state.
func (s *Session) State() wirenet.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != wirenet.StateOpen {
		return s.state
	}
	switch {
	case s.ready:
		return wirenet.StateReady
	case s.authenticated:
		return wirenet.StateAuthenticated
	default:
		return wirenet.StateOpen
	}
}

// Send writes the batch, or queues it while the gate is closed.
//
// Composers are resolved and encoded before the session lock is taken, so they
// may call back into the session.
func (s *Session) Send(composers ...wirenet.Composer) bool {
	if len(composers) == 0 {
		return false
	}
	batch := s.encodeBatch(composers)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || s.state.Terminal() {
		return false
	}

	if s.gatedLocked() {
		s.pendingOut = append(s.pendingOut, batch...)
		s.metrics.Pending(metrics.Outgoing, len(s.pendingOut))
		return false
	}

	s.writeBatchLocked(batch)
	return true
}

// RegisterOutgoing maps the type of prototype to id.
func (s *Session) RegisterOutgoing(prototype wirenet.Composer, id uint32) {
	s.registry.RegisterOutgoing(prototype, id)
}

// RegisterIncoming binds a handler to id.
func (s *Session) RegisterIncoming(id uint32, newParser wirenet.ParserFactory, handler wirenet.HandlerFunc, owner string) wirenet.Subscription {
	return s.registry.RegisterIncoming(id, newParser, handler, owner)
}

// UnregisterIncoming removes one binding.
func (s *Session) UnregisterIncoming(id uint32, sub wirenet.Subscription) {
	s.registry.UnregisterIncoming(id, sub)
}

// UnregisterOwner removes all bindings of owner.
func (s *Session) UnregisterOwner(owner string) {
	s.registry.UnregisterOwner(owner)
}

// Register applies a message configuration.
func (s *Session) Register(cfg wirenet.MessageConfiguration) {
	s.registry.Register(cfg)
}

func (s *Session) gatedLocked() bool {
	return s.authenticated && (!s.ready || s.draining)
}

func (s *Session) resetQueuesLocked() {
	s.pendingIn = nil
	s.pendingOut = nil
	s.acc.Reset()
	s.metrics.Pending(metrics.Incoming, 0)
	s.metrics.Pending(metrics.Outgoing, 0)
}

// outgoing is one composer of a batch with its encoded frame, or the error
// that kept it from being encoded.
type outgoing struct {
	typeName string
	id       uint32
	fields   []any
	data     []byte
	err      error
}

func (s *Session) encodeBatch(batch []wirenet.Composer) []outgoing {
	out := make([]outgoing, 0, len(batch))
	for _, c := range batch {
		if c == nil {
			continue
		}
		o := outgoing{typeName: registry.TypeName(c)}
		o.id, o.fields, o.data, o.err = s.encode(c)
		out = append(out, o)
	}
	return out
}

func (s *Session) encode(c wirenet.Composer) (id uint32, fields []any, data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: composer panicked: %v", wirenet.ErrEncodingFailure, r)
		}
	}()

	if id, err = s.registry.ResolveOutgoingID(c); err != nil {
		return id, nil, nil, err
	}
	fields = c.MessageArray()
	data, err = s.codec.Encode(id, fields)
	return id, fields, data, err
}

func (s *Session) writeBatchLocked(batch []outgoing) {
	for _, o := range batch {
		switch {
		case errors.Is(o.err, wirenet.ErrUnknownComposer):
			s.logger.Warn("unknown composer", "connection_id", s.id, "type", o.typeName)
			s.metrics.Failure(o.err)
			continue
		case o.err != nil:
			s.logger.Warn("encoding failed", "connection_id", s.id, "id", o.id, "type", o.typeName, "error", o.err)
			s.metrics.Failure(o.err)
			continue
		}

		s.logger.Debug("outgoing composer", "connection_id", s.id, "id", o.id, "type", o.typeName, "fields", o.fields)
		s.writeLocked(o.data)
	}
}

// writeLocked drops data unless the transport is open.
func (s *Session) writeLocked(data []byte) {
	if s.transport == nil || s.state != wirenet.StateOpen {
		s.logger.Debug("dropping write, transport not open", "connection_id", s.id, "state", s.state.String(), "size", len(data))
		return
	}

	if err := s.transport.Send(data); err != nil {
		err = fmt.Errorf("%w: write: %w", wirenet.ErrTransport, err)
		s.logger.Debug("write failed", "connection_id", s.id, "error", err)
		s.metrics.Failure(err)
		return
	}
	s.metrics.Sent(len(data))
}

func (s *Session) dispatchAll(gen uint64, wrappers []wirenet.Wrapper) {
	for _, w := range wrappers {
		if !s.current(gen) {
			return
		}
		if err := s.dispatcher.Dispatch(s, w); err != nil {
			s.metrics.Failure(err)
		}
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) handleOpen(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = wirenet.StateOpen
	id, addr := s.id, s.addr
	s.mu.Unlock()

	s.logger.Info("connection opened", "connection_id", id, "addr", addr)
	s.notify(wirenet.StatusEvent{ConnectionID: id, State: wirenet.StateOpen})
}

func (s *Session) handleData(gen uint64, data []byte) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}

	s.acc.Write(data)
	frames, consumed, err := s.codec.Decode(s.acc.Bytes())
	s.acc.Trim(consumed)
	s.metrics.Received(len(data), len(frames))

	if err != nil {
		s.logger.Warn("dropping malformed frames", "connection_id", s.id, "error", err)
		s.metrics.Failure(err)
	}

	if len(frames) == 0 {
		s.mu.Unlock()
		return
	}

	if s.gatedLocked() {
		s.pendingIn = append(s.pendingIn, frames...)
		s.metrics.Pending(metrics.Incoming, len(s.pendingIn))
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.dispatchAll(gen, frames)
}

func (s *Session) handleTerminal(gen uint64, state wirenet.State, cause error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	t := s.transport
	s.gen++
	s.transport = nil
	s.state = state
	s.draining = false
	s.resetQueuesLocked()
	id, addr := s.id, s.addr
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}

	ev := wirenet.StatusEvent{ConnectionID: id, State: state}
	if state == wirenet.StateErrored {
		ev.Err = wirenet.ErrTransport
		if cause != nil {
			ev.Err = fmt.Errorf("%w: %w", wirenet.ErrTransport, cause)
		}
		s.logger.Warn("connection error", "connection_id", id, "addr", addr, "error", ev.Err)
		s.metrics.Failure(ev.Err)
	} else {
		s.logger.Info("connection closed", "connection_id", id, "addr", addr)
	}
	s.notify(ev)
}

func (s *Session) notify(ev wirenet.StatusEvent) {
	if s.onStatus != nil {
		s.onStatus(ev)
	}
}

// events binds transport notifications to one generation of the session.
type events struct {
	s   *Session
	gen uint64
}

func (e *events) OnOpen()            { e.s.handleOpen(e.gen) }
func (e *events) OnData(data []byte) { e.s.handleData(e.gen, data) }
func (e *events) OnClose()           { e.s.handleTerminal(e.gen, wirenet.StateClosed, nil) }
func (e *events) OnError(err error)  { e.s.handleTerminal(e.gen, wirenet.StateErrored, err) }
