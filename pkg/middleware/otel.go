package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/socksync/pkg/protocol"
	"github.com/vango-dev/socksync/pkg/server"
)

// Default tracer name for socksync servers.
const defaultTracerName = "socksync"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "socksync").
	TracerName string

	// TracerProvider supplies the tracer. If nil, the global provider is
	// used.
	TracerProvider trace.TracerProvider

	// Filter determines which commands to trace.
	// Return true to trace the command, false to skip.
	// If nil, all commands are traced.
	Filter func(msg protocol.Message) bool

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithFilter sets a filter function for commands.
func WithFilter(filter func(msg protocol.Message) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// OpenTelemetry creates middleware that traces every inbound command.
//
// Each span is named "socksync.<kind>.<func>" and carries the group name,
// kind, command and connection id. Commands that produce an error for the
// origin end with status Error. Inner middleware receives the span in ctx.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before starting the
// server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) server.DispatchMiddleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	config.tracer = config.TracerProvider.Tracer(config.TracerName)

	return func(next server.DispatchFunc) server.DispatchFunc {
		return func(ctx context.Context, c *server.Conn, msg protocol.Message) protocol.Message {
			if config.Filter != nil && !config.Filter(msg) {
				return next(ctx, c, msg)
			}

			kind, fn := commandLabels(msg)
			attrs := []attribute.KeyValue{
				attribute.String("socksync.group.name", msg.Name()),
				attribute.String("socksync.group.kind", kind),
				attribute.String("socksync.func", fn),
			}
			var before uint64
			if c != nil {
				attrs = append(attrs, attribute.String("socksync.conn_id", c.ID()))
				before = c.ErrorsSent()
			}
			if id, ok := msg.String(protocol.FieldID); ok {
				attrs = append(attrs, attribute.String("socksync.id", id))
			}

			ctx, span := config.tracer.Start(ctx,
				fmt.Sprintf("socksync.%s.%s", kind, fn),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			reply := next(ctx, c, msg)

			if failed(c, before, reply) {
				desc := "error sent to peer"
				if reply != nil && reply.IsError() {
					if m, ok := reply.String(protocol.FieldMessage); ok {
						desc = m
					} else {
						desc = reply.Func()
					}
				}
				span.SetStatus(codes.Error, desc)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return reply
		}
	}
}
