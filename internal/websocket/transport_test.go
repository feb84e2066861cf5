package websocket

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wirenet"
	"github.com/luciancaetano/wirenet/internal/wstest"
)

const waitTimeout = 2 * time.Second

// eventLog records transport notifications.
type eventLog struct {
	mu     sync.Mutex
	opened int
	closed int
	errs   []error
	data   chan []byte
}

func newEventLog() *eventLog {
	return &eventLog{data: make(chan []byte, 64)}
}

func (e *eventLog) OnOpen() {
	e.mu.Lock()
	e.opened++
	e.mu.Unlock()
}

func (e *eventLog) OnData(data []byte) { e.data <- data }

func (e *eventLog) OnClose() {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
}

func (e *eventLog) OnError(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func (e *eventLog) counts() (opened, closed, errored int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened, e.closed, len(e.errs)
}

func (e *eventLog) firstErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return nil
	}
	return e.errs[0]
}

func (e *eventLog) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-e.data:
		return data
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for data")
		return nil
	}
}

func newTestTransport(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = wirenet.DiscardLogger()
	}
	return New(cfg)
}

func open(t *testing.T, srv *wstest.Server, cfg Config) (*Transport, *eventLog, *wstest.Conn) {
	t.Helper()

	tr := newTestTransport(cfg)
	ev := newEventLog()
	if err := tr.Open(context.Background(), srv.URL(), ev); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	conn, err := srv.Accept(waitTimeout)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return tr, ev, conn
}

func waitDone(t *testing.T, tr *Transport) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(waitTimeout):
		t.Fatal("transport did not terminate")
	}
}

// TestTransportRoundTrip tests that bytes flow both ways unchanged
func TestTransportRoundTrip(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr, ev, conn := open(t, srv, Config{})
	defer tr.Close()

	if opened, _, _ := ev.counts(); opened != 1 {
		t.Fatalf("OnOpen calls = %d, want 1", opened)
	}
	if !tr.IsAlive() {
		t.Error("transport should be alive after Open")
	}

	out := []byte{0, 0, 0, 2, 0, 1}
	if err := tr.Send(out); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := srv.Next(waitTimeout)
	if err != nil {
		t.Fatalf("server did not receive: %v", err)
	}
	if !bytes.Equal(got, out) {
		t.Errorf("server received %v, want %v", got, out)
	}

	in := []byte{0, 0, 0, 3, 0, 2, 9}
	if err := conn.Push(in); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if data := ev.next(t); !bytes.Equal(data, in) {
		t.Errorf("OnData got %v, want %v", data, in)
	}
}

// TestTransportPreservesOrder tests that chunks arrive in the order pushed
func TestTransportPreservesOrder(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr, ev, conn := open(t, srv, Config{})
	defer tr.Close()

	for i := 0; i < 20; i++ {
		if err := conn.Push([]byte{byte(i)}); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 20; i++ {
		if data := ev.next(t); data[0] != byte(i) {
			t.Fatalf("chunk %d = %d, out of order", i, data[0])
		}
	}
}

// TestTransportIgnoresTextMessages tests that only binary messages are delivered
func TestTransportIgnoresTextMessages(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr, ev, conn := open(t, srv, Config{})
	defer tr.Close()

	if err := conn.PushText("hello"); err != nil {
		t.Fatal(err)
	}
	if err := conn.Push([]byte{7}); err != nil {
		t.Fatal(err)
	}
	if data := ev.next(t); !bytes.Equal(data, []byte{7}) {
		t.Errorf("OnData got %v, want [7]", data)
	}
}

// TestTransportHandshakeHeader tests that configured headers reach the server
func TestTransportHandshakeHeader(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	header := http.Header{}
	header.Set("X-Client-Version", "1.2.3")

	tr, _, conn := open(t, srv, Config{Header: header})
	defer tr.Close()

	if got := conn.Header().Get("X-Client-Version"); got != "1.2.3" {
		t.Errorf("X-Client-Version = %q, want 1.2.3", got)
	}
}

// TestTransportLocalClose tests Close semantics
func TestTransportLocalClose(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr, ev, _ := open(t, srv, Config{})

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	waitDone(t, tr)

	if _, closed, errored := ev.counts(); closed != 1 || errored != 0 {
		t.Errorf("closed = %d, errored = %d, want exactly one OnClose", closed, errored)
	}
	if err := tr.Send([]byte{1}); !errors.Is(err, wirenet.ErrTransportClosed) {
		t.Errorf("Send() after Close error = %v, want ErrTransportClosed", err)
	}
	if tr.IsAlive() {
		t.Error("transport should not be alive after Close")
	}

	// Closing again is a no-op.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// TestTransportTerminalNotifications tests how the server ending the connection is reported
func TestTransportTerminalNotifications(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		end       func(c *wstest.Conn)
		wantError bool
	}{
		{
			name:      "normal closure",
			end:       func(c *wstest.Conn) { c.CloseWithCode(websocket.CloseNormalClosure, "bye") },
			wantError: false,
		},
		{
			name:      "going away",
			end:       func(c *wstest.Conn) { c.CloseWithCode(websocket.CloseGoingAway, "") },
			wantError: false,
		},
		{
			name:      "internal error",
			end:       func(c *wstest.Conn) { c.CloseWithCode(websocket.CloseInternalServerErr, "boom") },
			wantError: true,
		},
		{
			name:      "dropped connection",
			end:       func(c *wstest.Conn) { c.Drop() },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := wstest.NewServer(wstest.Config{})
			defer srv.Close()

			tr, ev, conn := open(t, srv, Config{})
			tt.end(conn)
			waitDone(t, tr)

			_, closed, errored := ev.counts()
			if closed+errored != 1 {
				t.Fatalf("terminal notifications = %d, want 1", closed+errored)
			}
			if (errored == 1) != tt.wantError {
				t.Errorf("OnError = %v, want %v (err: %v)", errored == 1, tt.wantError, ev.firstErr())
			}
			if err := tr.Send([]byte{1}); !errors.Is(err, wirenet.ErrTransportClosed) {
				t.Errorf("Send() after termination error = %v, want ErrTransportClosed", err)
			}
		})
	}
}

// TestTransportRateLimit tests that a flooding server is disconnected
func TestTransportRateLimit(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr, ev, conn := open(t, srv, Config{RateLimitConfig: &RateLimitConfig{
		MessagesPerSecond: 1,
		Burst:             2,
		Enabled:           true,
	}})

	for i := 0; i < 5; i++ {
		if err := conn.Push([]byte{byte(i)}); err != nil {
			break
		}
	}
	waitDone(t, tr)

	if err := ev.firstErr(); !errors.Is(err, ErrRateLimited) {
		t.Errorf("OnError got %v, want ErrRateLimited", err)
	}
	if n := len(ev.data); n != 2 {
		t.Errorf("delivered %d chunks, want 2 within burst", n)
	}
}

// TestTransportOpenFailure tests that a failed dial reports an error and no events
func TestTransportOpenFailure(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	addr := srv.URL()
	srv.Close()

	tr := newTestTransport(Config{HandshakeTimeout: time.Second})
	ev := newEventLog()
	if err := tr.Open(context.Background(), addr, ev); err == nil {
		t.Fatal("Open() to a closed server should fail")
	}
	if opened, closed, errored := ev.counts(); opened+closed+errored != 0 {
		t.Errorf("unexpected notifications: open=%d close=%d error=%d", opened, closed, errored)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() after failed Open error = %v", err)
	}
	waitDone(t, tr)
}

// TestTransportCloseBeforeOpen tests that a closed transport cannot be opened
func TestTransportCloseBeforeOpen(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr := newTestTransport(Config{})
	tr.Close()

	if err := tr.Open(context.Background(), srv.URL(), newEventLog()); !errors.Is(err, wirenet.ErrTransportClosed) {
		t.Errorf("Open() after Close error = %v, want ErrTransportClosed", err)
	}
}

// TestTransportKeepalive tests that pings are answered and keep the connection up
func TestTransportKeepalive(t *testing.T) {
	t.Parallel()

	srv := wstest.NewServer(wstest.Config{})
	defer srv.Close()

	tr, _, _ := open(t, srv, Config{
		PingInterval: 20 * time.Millisecond,
		PongWait:     100 * time.Millisecond,
	})
	defer tr.Close()

	// Several pong deadlines pass without any data from the server.
	time.Sleep(300 * time.Millisecond)

	if !tr.IsAlive() {
		t.Error("connection should be kept alive by pings")
	}
}

// TestTransportIDs tests that each transport has a unique identifier
func TestTransportIDs(t *testing.T) {
	t.Parallel()

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New(Config{Logger: wirenet.DiscardLogger()}).ID()
		if ids[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}
