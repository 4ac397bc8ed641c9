package integration_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
	"github.com/vango-dev/socksync/pkg/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quiet() group.Option {
	return group.WithLogger(quietLogger())
}

func newServer(t *testing.T, reg *group.Registry) *server.Server {
	t.Helper()
	cfg := server.DefaultServerConfig()
	cfg.Logger = quietLogger()
	cfg.ShutdownTimeout = 2 * time.Second
	srv := server.New(cfg, reg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// client is a test peer speaking the wire protocol.
type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func connect(t *testing.T, ts *httptest.Server, path string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(kind, name, fn string, fields map[string]any) {
	c.t.Helper()
	msg := protocol.New(kind, name, fn)
	for k, v := range fields {
		msg[k] = v
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		c.t.Fatalf("Encode(%v) error = %v", msg, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("WriteMessage error = %v", err)
	}
}

func (c *client) recv() protocol.Message {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("ReadMessage error = %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("Decode(%s) error = %v", data, err)
	}
	return msg
}

// expect reads one message and checks its func.
func (c *client) expect(fn string) protocol.Message {
	c.t.Helper()
	msg := c.recv()
	if msg.Func() != fn {
		c.t.Fatalf("received %v, want func %q", msg, fn)
	}
	return msg
}

// silent checks that nothing arrives within d. The connection cannot be
// read from afterwards.
func (c *client) silent(d time.Duration) {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.ws.ReadMessage()
	if err == nil {
		c.t.Fatalf("received %s, want nothing", data)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		c.t.Fatalf("ReadMessage error = %v, want timeout", err)
	}
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

// onlyConn returns the server side of the single open connection.
func onlyConn(t *testing.T, srv *server.Server) *server.Conn {
	t.Helper()
	var c *server.Conn
	waitFor(t, "connection", func() bool { return srv.Conns().Count() == 1 })
	srv.Conns().ForEach(func(conn *server.Conn) bool {
		c = conn
		return false
	})
	return c
}
