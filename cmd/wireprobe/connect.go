package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luciancaetano/wirenet"
	"github.com/luciancaetano/wirenet/client"
	"github.com/luciancaetano/wirenet/internal/protocol"
)

const connectExample = `	wireprobe connect wss://game.example/ws \
		--send 2419:0006736563726574 \
		--auth-after 1s --ready-after 2s \
		--watch 2491,2000`

// rawComposer sends a pre-encoded payload under its own id.
type rawComposer struct {
	id      uint32
	payload []byte
}

func (c *rawComposer) MessageArray() []any { return []any{c.payload} }
func (c *rawComposer) MessageID() uint32  { return c.id }

// rawParser keeps the whole payload.
type rawParser struct {
	Payload []byte
}

func (p *rawParser) Reset() error {
	p.Payload = nil
	return nil
}

func (p *rawParser) Parse(w wirenet.Wrapper) error {
	var err error
	p.Payload, err = w.ReadBytes(w.Remaining())
	return err
}

type connectOptions struct {
	watch       []string
	send        []string
	headers     []string
	authAfter   time.Duration
	readyAfter  time.Duration
	maxFrame    int
	rateLimit   bool
	metricsAddr string
}

func connect(cancel context.CancelFunc) *cobra.Command {
	var opts connectOptions

	if cancel == nil {
		cancel = func() {}
	}

	cmd := &cobra.Command{
		Use:           "connect <addr>",
		Short:         "Connect to a server and dump watched frames.",
		Long:          "connect opens a websocket to addr, sends the given frames, optionally runs the authenticated/ready handshake gate and logs every watched frame received.",
		Example:       connectExample,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runConnect(ctx, cancel, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.watch, "watch", nil, "comma separated message ids to dump")
	cmd.Flags().StringArrayVar(&opts.send, "send", nil, "<id>:<hex payload> frame to send after connecting (repeatable)")
	cmd.Flags().StringArrayVar(&opts.headers, "header", nil, "<name>=<value> handshake header (repeatable)")
	cmd.Flags().DurationVar(&opts.authAfter, "auth-after", 0, "mark the connection authenticated after this delay (0 disables the gate)")
	cmd.Flags().DurationVar(&opts.readyAfter, "ready-after", 0, "mark the connection ready this long after authenticating")
	cmd.Flags().IntVar(&opts.maxFrame, "max-frame-size", protocol.DefaultMaxFrameSize, "largest accepted frame in bytes")
	cmd.Flags().BoolVar(&opts.rateLimit, "rate-limit", false, "apply the default inbound rate limit")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runConnect(ctx context.Context, cancel context.CancelFunc, addr string, opts connectOptions) error {
	watch, err := parseIDs(opts.watch)
	if err != nil {
		return fmt.Errorf("parse --watch: %w", err)
	}
	frames, err := parseFrames(opts.send)
	if err != nil {
		return fmt.Errorf("parse --send: %w", err)
	}
	header, err := parseHeaders(opts.headers)
	if err != nil {
		return fmt.Errorf("parse --header: %w", err)
	}

	cfg := client.NewConfig(addr, client.NoRateLimit(), func(ev wirenet.StatusEvent) {
		slog.Info("connection status", "connection_id", ev.ConnectionID, "state", ev.State.String(), "error", ev.Err)
		if ev.State.Terminal() {
			cancel()
		}
	})
	if opts.rateLimit {
		cfg.RateLimitConfig = client.DefaultRateLimitConfig()
	}
	cfg.Header = header
	cfg.MaxFrameSize = opts.maxFrame
	cfg.Logger = slog.Default()

	var registry *prometheus.Registry
	if opts.metricsAddr != "" {
		registry = prometheus.NewRegistry()
		cfg.MetricsRegisterer = registry
	}

	conn, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer conn.Dispose()

	for _, id := range watch {
		client.Handle(conn, id, func(ev *wirenet.Event, p *rawParser) error {
			slog.Info("frame", "id", ev.ID, "size", len(p.Payload), "payload", hex.EncodeToString(p.Payload))
			return nil
		}, "wireprobe")
	}

	if registry != nil {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	if opts.authAfter > 0 {
		if !sleep(ctx, opts.authAfter) {
			return nil
		}
		conn.MarkAuthenticated()
		slog.Info("authenticated", "connection_id", conn.ID())
	}

	for _, f := range frames {
		if !conn.Send(f) && conn.IsAuthenticated() {
			slog.Debug("frame queued until ready", "id", f.id)
		}
	}

	if opts.authAfter > 0 {
		if !sleep(ctx, opts.readyAfter) {
			return nil
		}
		conn.MarkReady()
		slog.Info("ready", "connection_id", conn.ID())
	}

	<-ctx.Done()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func parseID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return uint32(id), nil
}

func parseIDs(values []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(values))
	for _, v := range values {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseFrames(values []string) ([]*rawComposer, error) {
	frames := make([]*rawComposer, 0, len(values))
	for _, v := range values {
		idPart, payloadPart, _ := strings.Cut(v, ":")
		id, err := parseID(idPart)
		if err != nil {
			return nil, err
		}
		payload, err := hex.DecodeString(strings.TrimSpace(payloadPart))
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", v, err)
		}
		frames = append(frames, &rawComposer{id: id, payload: payload})
	}
	return frames, nil
}

func parseHeaders(values []string) (http.Header, error) {
	if len(values) == 0 {
		return nil, nil
	}
	header := http.Header{}
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q", v)
		}
		header.Add(strings.TrimSpace(name), value)
	}
	return header, nil
}
