package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
	"github.com/vango-dev/socksync/pkg/server"
)

// Command status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "socksync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for command duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "socksync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

func newMetricsConfig(opts []MetricsOption) MetricsConfig {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}
	return config
}

type commandMetrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

func newCommandMetrics(config MetricsConfig) *commandMetrics {
	factory := promauto.With(config.Registry)

	return &commandMetrics{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commands_total",
			Help:        "Total number of inbound commands processed",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "func", "status"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "command_duration_seconds",
			Help:        "Command processing duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind", "func"}),
	}
}

// Prometheus creates middleware that counts and times every inbound
// command. It panics if the metrics are already registered with the
// configured registry, like promauto does.
//
// A command is counted with status "error" when its reply is an error
// message or when an error message was sent to the origin while it ran.
//
//	srv.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
func Prometheus(opts ...MetricsOption) server.DispatchMiddleware {
	return newCommandMetrics(newMetricsConfig(opts)).middleware
}

func (m *commandMetrics) middleware(next server.DispatchFunc) server.DispatchFunc {
	return func(ctx context.Context, c *server.Conn, msg protocol.Message) protocol.Message {
		kind, fn := commandLabels(msg)

		var before uint64
		if c != nil {
			before = c.ErrorsSent()
		}

		start := time.Now()
		reply := next(ctx, c, msg)
		m.commandDuration.WithLabelValues(kind, fn).Observe(time.Since(start).Seconds())

		status := StatusOK
		if failed(c, before, reply) {
			status = StatusError
		}
		m.commandsTotal.WithLabelValues(kind, fn, status).Inc()
		return reply
	}
}

// failed reports whether dispatching a command produced an error for the
// origin.
func failed(c *server.Conn, errorsBefore uint64, reply protocol.Message) bool {
	if reply != nil && reply.IsError() {
		return true
	}
	return c != nil && c.ErrorsSent() > errorsBefore
}

// commandLabels bounds label cardinality: peers choose the type and func
// fields freely.
func commandLabels(msg protocol.Message) (kind, fn string) {
	kind = msg.Type()
	if !group.Kind(kind).Valid() {
		kind = "unknown"
	}
	switch fn = msg.Func(); fn {
	case protocol.FuncGet, protocol.FuncSet, protocol.FuncSetAll,
		protocol.FuncInsert, protocol.FuncDelete, protocol.FuncCall,
		protocol.FuncReturn, protocol.FuncSubscribe, protocol.FuncUnsubscribe:
	default:
		fn = "unknown"
	}
	return kind, fn
}

// RegisterServerMetrics exports the server's connection and transport
// counters. Values are read at scrape time.
func RegisterServerMetrics(s *server.Server, opts ...MetricsOption) {
	config := newMetricsConfig(opts)
	factory := promauto.With(config.Registry)
	conns := s.Conns()
	collector := s.Collector()

	gauge := func(name, help string, fn func() float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, fn)
	}
	counter := func(name, help string, fn func() float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, fn)
	}

	gauge("active_connections", "Number of open WebSocket connections", func() float64 {
		return float64(conns.Count())
	})
	gauge("groups", "Number of registered groups", func() float64 {
		return float64(len(s.Registry().Groups()))
	})
	counter("connections_rejected_total", "Connections refused at the connection limit", func() float64 {
		return float64(conns.Stats().Rejected)
	})
	counter("messages_received_total", "Inbound WebSocket messages", func() float64 {
		return float64(collector.Snapshot().MessagesReceived)
	})
	counter("messages_sent_total", "Outbound WebSocket messages", func() float64 {
		return float64(collector.Snapshot().MessagesSent)
	})
	counter("decode_errors_total", "Inbound messages that failed to decode", func() float64 {
		return float64(collector.Snapshot().DecodeErrors)
	})
	counter("rate_limited_total", "Inbound messages dropped by the rate limiter", func() float64 {
		return float64(collector.Snapshot().RateLimited)
	})
}

// RegisterConnGauge exports only the active connection count of cm.
func RegisterConnGauge(cm *server.ConnManager, opts ...MetricsOption) {
	config := newMetricsConfig(opts)
	promauto.With(config.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "active_connections",
		Help:        "Number of open WebSocket connections",
		ConstLabels: config.ConstLabels,
	}, func() float64 {
		return float64(cm.Count())
	})
}
