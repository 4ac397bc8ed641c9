package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/vango-dev/socksync/internal/config"
)

const sampleConfig = `
address = "127.0.0.1:0"
log_level = "debug"

[snapshot]
backend = "memory"

[[group]]
kind = "var"
name = "counter"
value = 3

[[group]]
kind = "list"
name = "todos"
page_size = 10
snapshot = true
items = [
  { id = "a", value = "milk" },
  { id = "b", value = "eggs" },
]

[[group]]
kind = "function"
name = "echo"
builtin = "echo"
max_concurrent = 2

[[group]]
kind = "function"
name = "prompt"
remote = true
subscribable = false
call_timeout = "2s"
`

func init() {
	colors = false
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseConfig(t *testing.T, data string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	return cfg
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
