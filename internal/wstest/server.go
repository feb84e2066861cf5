// Package wstest provides an in-process websocket server for tests.
package wstest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTimeout is returned when an expected connection or message does not
// arrive in time.
var ErrTimeout = errors.New("wstest: timed out")

// OnConnectFn is called for each accepted connection before its read loop starts.
type OnConnectFn = func(c *Conn)

// OnMessageFn is called for each binary message received from a client.
type OnMessageFn = func(c *Conn, data []byte)

// Config configures a Server. All fields are optional.
type Config struct {
	CheckOrigin func(r *http.Request) bool
	OnConnect   OnConnectFn
	OnMessage   OnMessageFn
}

// Server accepts websocket connections on /ws and records what clients send.
type Server struct {
	srv       *httptest.Server
	upgrader  websocket.Upgrader
	onConnect OnConnectFn
	onMessage OnMessageFn

	accepted chan *Conn
	received chan []byte

	mu    sync.Mutex
	conns []*Conn
}

// NewServer starts a server. Close it when done.
func NewServer(cfg Config) *Server {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		onConnect: cfg.OnConnect,
		onMessage: cfg.OnMessage,
		accepted:  make(chan *Conn, 1024),
		received:  make(chan []byte, 1024),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the ws:// address of the endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Accept waits for the next connection. Connections beyond the backlog of
// unaccepted ones are served but not reported.
func (s *Server) Accept(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-s.accepted:
		return c, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Next waits for the next binary message sent by any client.
func (s *Server) Next(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-s.received:
		return data, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Drop()
	}
	s.srv.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}

	c := &Conn{conn: ws, header: r.Header.Clone()}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	if s.onConnect != nil {
		s.onConnect(c)
	}
	select {
	case s.accepted <- c:
	default:
	}

	go s.handleClient(c)
}

func (s *Server) handleClient(c *Conn) {
	defer c.Drop()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if s.onMessage != nil {
			s.onMessage(c, data)
		}
		select {
		case s.received <- data:
		default:
		}
	}
}

// Conn is the server side of one client connection.
type Conn struct {
	conn   *websocket.Conn
	header http.Header

	// writes are serialized; gorilla allows one concurrent writer.
	mu sync.Mutex
}

// Header returns the handshake request headers.
func (c *Conn) Header() http.Header {
	return c.header
}

// Push writes data to the client as one binary message.
func (c *Conn) Push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// PushText writes a text message, which clients ignore.
func (c *Conn) PushText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// CloseWithCode sends a close frame and closes the connection.
func (c *Conn) CloseWithCode(code int, reason string) error {
	message := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	return c.conn.Close()
}

// Drop closes the connection without a close frame.
func (c *Conn) Drop() {
	c.conn.Close()
}
