// Package websocket implements wirenet.Transport over a gorilla/websocket
// client connection. Every binary message received is delivered as one
// OnData chunk; frames may span messages.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wirenet"
)

// Defaults applied by Config for zero values.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 54 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultSendBuffer       = 256
)

// ErrRateLimited is reported through OnError when the server exceeds the
// inbound rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// errClosedLocally ends the pumps after Close.
var errClosedLocally = errors.New("closed locally")

// Config configures a Transport. Zero durations use the defaults.
type Config struct {
	HandshakeTimeout time.Duration
	// Header is sent with the opening handshake.
	Header http.Header
	// RateLimitConfig limits messages received per second. Nil disables it.
	RateLimitConfig *RateLimitConfig
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	// SendBuffer is the capacity of the outgoing queue.
	SendBuffer int
	// ReadLimit caps the size of one websocket message. Zero means no limit.
	ReadLimit int64
	Logger    wirenet.Logger
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.Logger == nil {
		c.Logger = wirenet.DefaultLogger()
	}
}

// Transport is a single-use websocket client connection.
type Transport struct {
	id          string
	cfg         Config
	dialer      *websocket.Dialer
	rateLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	done   chan struct{}

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool
}

var _ wirenet.Transport = (*Transport)(nil)

// New creates an unopened Transport.
func New(cfg Config) *Transport {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		id:  uuid.New().String(),
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		rateLimiter: newLimiter(cfg.RateLimitConfig),
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, cfg.SendBuffer),
		done:        make(chan struct{}),
	}
}

// ID returns a unique identifier for the transport
func (t *Transport) ID() string {
	return t.id
}

// Done is closed after the terminal notification has been delivered.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Open dials addr and starts the pumps. OnOpen is delivered before Open
// returns; exactly one of OnClose or OnError follows later.
func (t *Transport) Open(ctx context.Context, addr string, events wirenet.TransportEvents) error {
	conn, resp, err := t.dialer.DialContext(ctx, addr, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	t.mu.Lock()
	if t.closed || t.conn != nil {
		t.mu.Unlock()
		conn.Close()
		return wirenet.ErrTransportClosed
	}
	t.conn = conn
	t.mu.Unlock()

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	t.cfg.Logger.Debug("websocket connected", "transport_id", t.id, "addr", addr)
	events.OnOpen()

	go t.run(conn, events)
	return nil
}

// Send queues data for the write pump. It blocks while the queue is full.
func (t *Transport) Send(data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed || t.conn == nil {
		return wirenet.ErrTransportClosed
	}

	select {
	case t.sendCh <- data:
		return nil
	case <-t.ctx.Done():
		return wirenet.ErrTransportClosed
	}
}

// Close closes the connection with a normal closure.
func (t *Transport) Close() error {
	return t.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (t *Transport) CloseWithCode(code int, reason string) error {
	// Cancel first so a Send blocked on a full queue releases the read lock.
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn == nil {
		close(t.done)
		return nil
	}

	message := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	return t.conn.Close()
}

// IsAlive returns true if the connection is still active
func (t *Transport) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil && !t.closed
}

func (t *Transport) closedLocally() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Transport) run(conn *websocket.Conn, events wirenet.TransportEvents) {
	defer close(t.done)

	g, gctx := errgroup.WithContext(t.ctx)
	g.Go(func() error { return t.readPump(conn, events) })
	g.Go(func() error { return t.writePump(gctx, conn) })
	err := g.Wait()

	t.cancel()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	conn.Close()

	if isNormalClose(err) {
		t.cfg.Logger.Debug("websocket closed", "transport_id", t.id)
		events.OnClose()
		return
	}
	t.cfg.Logger.Debug("websocket failed", "transport_id", t.id, "error", err)
	events.OnError(err)
}

func isNormalClose(err error) bool {
	return err == nil ||
		errors.Is(err, errClosedLocally) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// readPump delivers binary messages in order until the connection ends.
func (t *Transport) readPump(conn *websocket.Conn, events wirenet.TransportEvents) error {
	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if t.closedLocally() {
				return errClosedLocally
			}
			return err
		}

		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))

		if t.rateLimiter != nil && !t.rateLimiter.Allow() {
			t.cfg.Logger.Warn("rate limit exceeded", "transport_id", t.id, "remote_addr", conn.RemoteAddr().String())
			t.CloseWithCode(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return ErrRateLimited
		}

		if kind != websocket.BinaryMessage {
			t.cfg.Logger.Debug("ignoring non-binary message", "transport_id", t.id, "type", kind)
			continue
		}

		events.OnData(data)
	}
}

// writePump pumps messages from the send channel to the websocket connection
func (t *Transport) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// Release senders blocked on a full queue before the reader finishes.
		t.cancel()
		conn.Close()
	}()

	for {
		select {
		case message := <-t.sendCh:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return err
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case <-ctx.Done():
			return nil
		}
	}
}
