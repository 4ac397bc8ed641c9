package group_test

import (
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/grouptest"
	"github.com/vango-dev/socksync/pkg/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quiet() group.Option {
	return group.WithLogger(quietLogger())
}

// seqIDs returns a generator producing "id-1", "id-2", ...
func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

func cmd(g group.Group, fn string, fields map[string]any) protocol.Message {
	msg := protocol.New(string(g.Kind()), g.Name(), fn)
	for k, v := range fields {
		msg[k] = v
	}
	return msg
}

func handle(g group.Group, fn string, fields map[string]any, origin group.Connection) protocol.Message {
	return g.HandleCommand(fn, cmd(g, fn, fields), origin)
}

func mustFunc(t *testing.T, msg protocol.Message, want string) {
	t.Helper()
	if msg == nil {
		t.Fatalf("message is nil, want func %q", want)
	}
	if got := msg.Func(); got != want {
		t.Fatalf("func = %q, want %q (message %v)", got, want, msg)
	}
}

func recorders(ids ...string) []*grouptest.Recorder {
	out := make([]*grouptest.Recorder, len(ids))
	for i, id := range ids {
		out[i] = grouptest.NewRecorder(id)
	}
	return out
}
