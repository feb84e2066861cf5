// Package metrics exposes Prometheus counters for a protocol connection.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/wirenet"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "wirenet").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is where the collectors are registered. Collectors already
	// registered with the same description are reused, so several
	// connections can share one registry.
	Registry prometheus.Registerer
}

// Failure classes used as the "class" label of failures_total.
const (
	ClassEncoding     = "encoding"
	ClassDecoding     = "decoding"
	ClassUnregistered = "unregistered"
	ClassHandler      = "handler"
	ClassComposer     = "unknown_composer"
	ClassTransport    = "transport"
	ClassOther        = "other"
)

// Direction label values of pending_messages.
const (
	Incoming = "incoming"
	Outgoing = "outgoing"
)

// Metrics records connection activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	framesReceived prometheus.Counter
	framesSent     prometheus.Counter
	bytesReceived  prometheus.Counter
	bytesSent      prometheus.Counter
	failures       *prometheus.CounterVec
	pending        *prometheus.GaugeVec
}

// New creates and registers the collectors. It returns nil when cfg.Registry
// is nil.
func New(cfg Config) (*Metrics, error) {
	if cfg.Registry == nil {
		return nil, nil
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "wirenet"
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_received_total",
			Help:        "Total number of complete frames decoded",
			ConstLabels: cfg.ConstLabels,
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_sent_total",
			Help:        "Total number of frames written to the transport",
			ConstLabels: cfg.ConstLabels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "received_bytes_total",
			Help:        "Total bytes delivered by the transport",
			ConstLabels: cfg.ConstLabels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sent_bytes_total",
			Help:        "Total bytes written to the transport",
			ConstLabels: cfg.ConstLabels,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "failures_total",
			Help:        "Total contained failures by class",
			ConstLabels: cfg.ConstLabels,
		}, []string{"class"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "pending_messages",
			Help:        "Messages held by the handshake gate",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction"}),
	}

	var err error
	if m.framesReceived, err = register(cfg.Registry, m.framesReceived); err != nil {
		return nil, err
	}
	if m.framesSent, err = register(cfg.Registry, m.framesSent); err != nil {
		return nil, err
	}
	if m.bytesReceived, err = register(cfg.Registry, m.bytesReceived); err != nil {
		return nil, err
	}
	if m.bytesSent, err = register(cfg.Registry, m.bytesSent); err != nil {
		return nil, err
	}
	if m.failures, err = register(cfg.Registry, m.failures); err != nil {
		return nil, err
	}
	if m.pending, err = register(cfg.Registry, m.pending); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Received records a delivery of n bytes that produced frames complete frames.
func (m *Metrics) Received(n, frames int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
	m.framesReceived.Add(float64(frames))
}

// Sent records one frame of n bytes written to the transport.
func (m *Metrics) Sent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
	m.framesSent.Inc()
}

// Failure counts err under its class. An error joining several classified
// failures, as returned by Codec.Decode, counts once per member.
func (m *Metrics) Failure(err error) {
	if m == nil || err == nil {
		return
	}
	if members := splitJoined(err); members != nil {
		for _, e := range members {
			m.Failure(e)
		}
		return
	}
	m.failures.WithLabelValues(Classify(err)).Inc()
}

// splitJoined returns the members of a multi-error when each of them is a
// classified failure on its own. A single failure wrapping a cause with
// several %w verbs is not split.
func splitJoined(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	members := joined.Unwrap()
	for _, e := range members {
		if Classify(e) == ClassOther {
			return nil
		}
	}
	return members
}

// Pending sets the number of queued messages in direction.
func (m *Metrics) Pending(direction string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(direction).Set(float64(n))
}

// Classify maps err to a failure class label.
func Classify(err error) string {
	switch {
	case errors.Is(err, wirenet.ErrEncodingFailure):
		return ClassEncoding
	case errors.Is(err, wirenet.ErrDecodingFailure):
		return ClassDecoding
	case errors.Is(err, wirenet.ErrUnregisteredMessage):
		return ClassUnregistered
	case errors.Is(err, wirenet.ErrHandlerFailure):
		return ClassHandler
	case errors.Is(err, wirenet.ErrUnknownComposer):
		return ClassComposer
	case errors.Is(err, wirenet.ErrTransport), errors.Is(err, wirenet.ErrTransportClosed):
		return ClassTransport
	default:
		return ClassOther
	}
}
