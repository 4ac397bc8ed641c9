package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
	"github.com/vango-dev/socksync/pkg/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func replyWith(m protocol.Message) server.DispatchFunc {
	return func(context.Context, *server.Conn, protocol.Message) protocol.Message {
		return m
	}
}

func testMetrics() (*commandMetrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	config := defaultMetricsConfig()
	config.Registry = reg
	return newCommandMetrics(config), reg
}

func TestPrometheusCountsStatus(t *testing.T) {
	m, reg := testMetrics()

	ok := m.middleware(replyWith(protocol.Message{"type": "var", "name": "x", "func": "set", "value": 1}))
	bad := m.middleware(replyWith(protocol.GeneralError("boom")))
	silent := m.middleware(replyWith(nil))

	get := protocol.New("var", "x", protocol.FuncGet)
	ok(context.Background(), nil, get)
	silent(context.Background(), nil, get)
	bad(context.Background(), nil, get)

	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("var", "get", StatusOK)); got != 2 {
		t.Errorf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("var", "get", StatusError)); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(reg, "socksync_command_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestPrometheusBoundsLabels(t *testing.T) {
	m, reg := testMetrics()
	h := m.middleware(replyWith(nil))

	h(context.Background(), nil, protocol.Message{"type": "bogus", "name": "x", "func": "explode"})
	h(context.Background(), nil, protocol.Message{"type": "other", "name": "y", "func": "melt"})

	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("unknown", "unknown", StatusOK)); got != 2 {
		t.Errorf("unknown count = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(reg, "socksync_commands_total"); n != 1 {
		t.Errorf("series = %d, want 1", n)
	}
}

func TestPrometheusOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Prometheus(
		WithRegistry(reg),
		WithNamespace("app"),
		WithSubsystem("sync"),
		WithConstLabels(prometheus.Labels{"region": "eu"}),
		WithBuckets([]float64{0.1, 1}),
	)
	mw(replyWith(nil))(context.Background(), nil, protocol.New("list", "l", protocol.FuncInsert))

	if n := testutil.CollectAndCount(reg, "app_sync_commands_total"); n != 1 {
		t.Errorf("app_sync_commands_total series = %d, want 1", n)
	}
	want := `
# HELP app_sync_commands_total Total number of inbound commands processed
# TYPE app_sync_commands_total counter
app_sync_commands_total{func="insert",kind="list",region="eu",status="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "app_sync_commands_total"); err != nil {
		t.Error(err)
	}
}

func TestPrometheusDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Prometheus(WithRegistry(reg))

	defer func() {
		if recover() == nil {
			t.Error("second Prometheus() on the same registry did not panic")
		}
	}()
	Prometheus(WithRegistry(reg))
}

func startServer(t *testing.T, reg *group.Registry, mw ...server.DispatchMiddleware) (*server.Server, string) {
	t.Helper()
	cfg := server.DefaultServerConfig()
	cfg.Logger = quietLogger()
	cfg.ShutdownTimeout = 2 * time.Second
	s := server.New(cfg, reg)
	s.Use(mw...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, msg map[string]any) protocol.Message {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	reply, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return reply
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPrometheusCountsErrorsSentDuringDispatch(t *testing.T) {
	m, _ := testMetrics()
	reg := group.NewRegistry()
	reg.MustRegister(group.NewList("todo", 10, group.WithLogger(quietLogger())))
	_, url := startServer(t, reg, m.middleware)
	ws := dial(t, url)

	roundTrip(t, ws, map[string]any{"type": "list", "name": "todo", "func": "subscribe"})
	got := roundTrip(t, ws, map[string]any{"type": "list", "name": "todo", "func": "set", "id": "nope", "value": 1})
	if got.Func() != protocol.FuncNameError {
		t.Fatalf("reply = %v, want name_error", got)
	}

	waitFor(t, "error status", func() bool {
		return testutil.ToFloat64(m.commandsTotal.WithLabelValues("list", "set", StatusError)) == 1
	})
	if got := testutil.ToFloat64(m.commandsTotal.WithLabelValues("list", "subscribe", StatusOK)); got != 1 {
		t.Errorf("subscribe ok count = %v, want 1", got)
	}
}

func TestRegisterServerMetrics(t *testing.T) {
	reg := group.NewRegistry()
	reg.MustRegister(group.NewVariable("motd", "hi", group.WithLogger(quietLogger())))
	s, url := startServer(t, reg)

	preg := prometheus.NewRegistry()
	RegisterServerMetrics(s, WithRegistry(preg))

	dial(t, url)
	waitFor(t, "connection", func() bool { return s.Conns().Count() == 1 })

	want := `
# HELP socksync_active_connections Number of open WebSocket connections
# TYPE socksync_active_connections gauge
socksync_active_connections 1
# HELP socksync_groups Number of registered groups
# TYPE socksync_groups gauge
socksync_groups 1
`
	if err := testutil.GatherAndCompare(preg, strings.NewReader(want),
		"socksync_active_connections", "socksync_groups"); err != nil {
		t.Error(err)
	}
}

func TestRegisterConnGauge(t *testing.T) {
	cm := server.NewConnManager(nil, 0, 0, time.Minute, quietLogger())
	t.Cleanup(func() { _ = cm.Shutdown(context.Background()) })

	preg := prometheus.NewRegistry()
	RegisterConnGauge(cm, WithRegistry(preg), WithNamespace("x"))

	if n := testutil.CollectAndCount(preg, "x_active_connections"); n != 1 {
		t.Errorf("x_active_connections series = %d, want 1", n)
	}
}
