package middleware

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
	"github.com/vango-dev/socksync/pkg/server"
)

func testTracer(t *testing.T) (*tracetest.SpanRecorder, OTelOption) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, WithTracerProvider(tp)
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestOpenTelemetryNamesSpan(t *testing.T) {
	sr, tp := testTracer(t)
	mw := OpenTelemetry(tp)

	var inner trace.SpanContext
	h := mw(func(ctx context.Context, _ *server.Conn, _ protocol.Message) protocol.Message {
		inner = trace.SpanContextFromContext(ctx)
		return nil
	})
	h(context.Background(), nil, protocol.Message{"type": "list", "name": "todo", "func": "delete", "id": "a"})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "socksync.list.delete" {
		t.Errorf("Name() = %q, want socksync.list.delete", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("SpanKind() = %v, want server", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("Status() = %v, want Ok", span.Status())
	}
	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("inner handler did not receive the command span in ctx")
	}

	a := attrs(span)
	want := map[attribute.Key]string{
		"socksync.group.name": "todo",
		"socksync.group.kind": "list",
		"socksync.func":       "delete",
		"socksync.id":         "a",
	}
	for k, v := range want {
		if a[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, a[k], v)
		}
	}
}

func TestOpenTelemetryErrorReply(t *testing.T) {
	sr, tp := testTracer(t)
	h := OpenTelemetry(tp)(replyWith(protocol.GeneralError("unknown group: nope")))

	h(context.Background(), nil, protocol.New("var", "nope", protocol.FuncSet))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	st := spans[0].Status()
	if st.Code != codes.Error || st.Description != "unknown group: nope" {
		t.Errorf("Status() = %+v, want Error with message", st)
	}
}

func TestOpenTelemetryFilter(t *testing.T) {
	sr, tp := testTracer(t)
	mw := OpenTelemetry(tp, WithTracerName("test"), WithFilter(func(msg protocol.Message) bool {
		return msg.Func() != protocol.FuncGet
	}))

	called := 0
	h := mw(func(context.Context, *server.Conn, protocol.Message) protocol.Message {
		called++
		return nil
	})
	h(context.Background(), nil, protocol.New("var", "x", protocol.FuncGet))
	h(context.Background(), nil, protocol.New("var", "x", protocol.FuncSet))

	if called != 2 {
		t.Errorf("handler calls = %d, want 2", called)
	}
	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "socksync.var.set" {
		t.Fatalf("spans = %v, want only socksync.var.set", spans)
	}
	if got := spans[0].InstrumentationScope().Name; got != "test" {
		t.Errorf("tracer name = %q, want test", got)
	}
}

func TestOpenTelemetryOverWebSocket(t *testing.T) {
	sr, tp := testTracer(t)
	reg := group.NewRegistry()
	reg.MustRegister(group.NewVariable("motd", "hi", group.WithLogger(quietLogger())))
	_, url := startServer(t, reg, OpenTelemetry(tp))
	ws := dial(t, url)

	roundTrip(t, ws, map[string]any{"type": "var", "name": "motd", "func": "subscribe"})
	waitFor(t, "span", func() bool { return len(sr.Ended()) == 1 })

	a := attrs(sr.Ended()[0])
	if a["socksync.conn_id"] == "" {
		t.Error("span has no connection id")
	}
	if a["socksync.func"] != "subscribe" {
		t.Errorf("func attribute = %q, want subscribe", a["socksync.func"])
	}
}
