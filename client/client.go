// Package client wires the protocol engine to a websocket transport.
//
// Example:
//
//	conn, err := client.New(client.NewConfig("wss://game.example/ws", client.DefaultRateLimitConfig(), nil))
//	if err != nil {
//	    return err
//	}
//	conn.RegisterOutgoing(&LoginComposer{}, 2419)
//	client.Handle(conn, 2491, func(ev *wirenet.Event, p *AuthOKParser) error {
//	    ev.Connection.MarkAuthenticated()
//	    return nil
//	}, "login")
//
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	conn.Send(&LoginComposer{Ticket: ticket})
//	// ...
//	conn.MarkReady()
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/wirenet"
	"github.com/luciancaetano/wirenet/internal/metrics"
	"github.com/luciancaetano/wirenet/internal/protocol"
	"github.com/luciancaetano/wirenet/internal/session"
	"github.com/luciancaetano/wirenet/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig

// Config configures a Client.
type Config struct {
	// Addr is the websocket URL used by Connect.
	Addr string
	// Codec frames messages. When nil, the default codec is used with
	// MaxFrameSize.
	Codec wirenet.Codec
	// MaxFrameSize bounds declared frame lengths (default: 10 MiB).
	MaxFrameSize int
	// RateLimitConfig limits messages received from the server. Nil means
	// NoRateLimit().
	RateLimitConfig  *RateLimitConfig
	HandshakeTimeout time.Duration
	// Header is sent with the websocket handshake.
	Header http.Header
	Logger wirenet.Logger
	// MetricsRegisterer receives the connection metrics. Nil disables them.
	MetricsRegisterer prometheus.Registerer
	// IsolateHandlerFailures keeps delivering a message to later handlers
	// after one fails.
	IsolateHandlerFailures bool
	OnStatus               wirenet.StatusFunc
}

// NewConfig returns a Config with the commonly set fields.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, onStatus wirenet.StatusFunc) *Config {
	return &Config{
		Addr:            addr,
		RateLimitConfig: rateLimitConfig,
		OnStatus:        onStatus,
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// Client is a wirenet.Connection over websocket.
type Client struct {
	*session.Session
	addr string
}

var _ wirenet.Connection = (*Client)(nil)

// New creates a disconnected Client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = NoRateLimit()
	}
	if cfg.Logger == nil {
		cfg.Logger = wirenet.DefaultLogger()
	}
	if cfg.Codec == nil {
		var opts []protocol.Option
		if cfg.MaxFrameSize > 0 {
			opts = append(opts, protocol.WithMaxFrameSize(cfg.MaxFrameSize))
		}
		codec := protocol.NewCodec(opts...)
		cfg.Logger.Debug("frame codec configured", "max_frame_size", codec.MaxFrameSize())
		cfg.Codec = codec
	}

	m, err := metrics.New(metrics.Config{Registry: cfg.MetricsRegisterer})
	if err != nil {
		return nil, err
	}

	transportCfg := websocket.Config{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Header:           cfg.Header,
		RateLimitConfig:  cfg.RateLimitConfig,
		Logger:           cfg.Logger,
	}

	s, err := session.New(session.Config{
		Codec: cfg.Codec,
		NewTransport: func() wirenet.Transport {
			return websocket.New(transportCfg)
		},
		Logger:                 cfg.Logger,
		Metrics:                m,
		IsolateHandlerFailures: cfg.IsolateHandlerFailures,
		OnStatus:               cfg.OnStatus,
	})
	if err != nil {
		return nil, err
	}

	return &Client{Session: s, addr: cfg.Addr}, nil
}

// Connect opens the connection to the configured address.
func (c *Client) Connect(ctx context.Context) error {
	return c.Init(ctx, c.addr)
}

// Handle registers a handler that receives the parsed message as its
// concrete parser type. PP is the pointer to the parser struct P; a fresh
// zero P is built for each message.
func Handle[P any, PP interface {
	*P
	wirenet.Parser
}](conn wirenet.Connection, id uint32, handler func(ev *wirenet.Event, p PP) error, owner string) wirenet.Subscription {
	return conn.RegisterIncoming(id, func() wirenet.Parser {
		return PP(new(P))
	}, func(ev *wirenet.Event) error {
		return handler(ev, ev.Parser.(PP))
	}, owner)
}
