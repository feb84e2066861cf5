package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/wirenet"
	"github.com/luciancaetano/wirenet/internal/protocol"
)

// fakeTransport records writes and lets tests push notifications.
type fakeTransport struct {
	mu      sync.Mutex
	events  wirenet.TransportEvents
	sent    [][]byte
	closed  bool
	openErr error
	onSend  func(data []byte)
}

func (f *fakeTransport) Open(ctx context.Context, addr string, events wirenet.TransportEvents) error {
	f.mu.Lock()
	f.events = events
	err := f.openErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	events.OnOpen()
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return wirenet.ErrTransportClosed
	}
	f.sent = append(f.sent, bytes.Clone(data))
	cb := f.onSend
	f.mu.Unlock()

	if cb != nil {
		cb(data)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) listener() wirenet.TransportEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) deliver(data []byte) {
	f.listener().OnData(data)
}

// sentValues decodes every written frame as (id, int32 value).
func (f *fakeTransport) sentValues(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, data := range f.sent {
		out = append(out, describeFrame(t, data))
	}
	return out
}

func describeFrame(t *testing.T, data []byte) string {
	t.Helper()
	frames, _, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	v, err := frames[0].ReadInt()
	require.NoError(t, err)
	return fmt.Sprintf("%d:%d", frames[0].ID(), v)
}

// numberComposer and otherComposer encode a single int32.
type numberComposer struct{ n int32 }

func (c *numberComposer) MessageArray() []any { return []any{c.n} }

type otherComposer struct{ n int32 }

func (c *otherComposer) MessageArray() []any { return []any{c.n} }

type unregisteredComposer struct{}

func (*unregisteredComposer) MessageArray() []any { return nil }

type badFieldComposer struct{}

func (*badFieldComposer) MessageArray() []any { return []any{3.5} }

type panickingComposer struct{}

func (*panickingComposer) MessageArray() []any { panic("no fields") }

const (
	numberID uint32 = 10
	otherID  uint32 = 11
	badID    uint32 = 12
	panicID  uint32 = 13
)

// intParser reads one int32.
type intParser struct{ Value int32 }

func (p *intParser) Reset() error { p.Value = 0; return nil }

func (p *intParser) Parse(w wirenet.Wrapper) error {
	var err error
	p.Value, err = w.ReadInt()
	return err
}

func newIntParser() wirenet.Parser { return &intParser{} }

func frameBytes(t *testing.T, id uint32, v int32) []byte {
	t.Helper()
	data, err := protocol.Encode(id, v)
	require.NoError(t, err)
	return data
}

// memLogger captures log messages for assertion in tests
type memLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *memLogger) append(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *memLogger) Debug(msg string, args ...any) { l.append("DEBUG", msg) }
func (l *memLogger) Info(msg string, args ...any)  { l.append("INFO", msg) }
func (l *memLogger) Warn(msg string, args ...any)  { l.append("WARN", msg) }
func (l *memLogger) Error(msg string, args ...any) { l.append("ERROR", msg) }

func (l *memLogger) count(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e == entry {
			n++
		}
	}
	return n
}

// recorder collects ordered observations from several goroutines.
type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) add(item string) {
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

// statusLog collects status notifications.
type statusLog struct {
	mu     sync.Mutex
	events []wirenet.StatusEvent
}

func (l *statusLog) record(ev wirenet.StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *statusLog) states() []wirenet.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wirenet.State
	for _, ev := range l.events {
		out = append(out, ev.State)
	}
	return out
}

type harness struct {
	s      *Session
	ft     *fakeTransport
	log    *memLogger
	status *statusLog
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	h := &harness{ft: &fakeTransport{}, log: &memLogger{}, status: &statusLog{}}
	cfg := Config{
		NewTransport: func() wirenet.Transport { return h.ft },
		Logger:       h.log,
		OnStatus:     h.status.record,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	s.RegisterOutgoing(&numberComposer{}, numberID)
	s.RegisterOutgoing(&otherComposer{}, otherID)
	s.RegisterOutgoing(&badFieldComposer{}, badID)
	s.RegisterOutgoing(&panickingComposer{}, panicID)

	require.NoError(t, s.Init(context.Background(), "ws://test.local/ws"))
	h.s = s
	return h
}

func int32At(data []byte) int32 {
	return int32(binary.BigEndian.Uint32(data[6:10]))
}
