package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	cerrors "github.com/vango-dev/socksync/internal/errors"
)

const sample = `
address = ":9000"
log_level = "debug"
log_format = "json"
shutdown_timeout = "5s"

[session]
read_timeout = "20s"
heartbeat_interval = "5s"

[snapshot]
backend = "s3"
bucket = "state"
interval = "1m"

[[group]]
kind = "var"
name = "motd"
value = "hello"

[[group]]
kind = "list"
name = "todos"
page_size = 20
snapshot = true
items = [{id = "a", value = 1}, {id = "b", value = "two"}]

[[group]]
kind = "function"
name = "echo"
builtin = "echo"
subscribable = false

[[group]]
kind = "function"
name = "prompt"
remote = true
call_timeout = "10s"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Address != DefaultAddress || cfg.Path != DefaultPath {
		t.Errorf("address/path = %q %q", cfg.Address, cfg.Path)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sample)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
	if cfg.Address != ":9000" {
		t.Errorf("Address = %q, want :9000", cfg.Address)
	}
	if cfg.ShutdownTimeout.Duration != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
	if cfg.Session.ReadTimeout.Duration != 20*time.Second {
		t.Errorf("ReadTimeout = %v, want 20s", cfg.Session.ReadTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Session.WriteTimeout.Duration != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want default 10s", cfg.Session.WriteTimeout)
	}
	if cfg.Snapshot.Prefix != "socksync/" {
		t.Errorf("Snapshot.Prefix = %q, want default", cfg.Snapshot.Prefix)
	}

	if len(cfg.Groups) != 4 {
		t.Fatalf("len(Groups) = %d, want 4", len(cfg.Groups))
	}
	list := cfg.Groups[1]
	want := []ItemConfig{{ID: "a", Value: int64(1)}, {ID: "b", Value: "two"}}
	if diff := cmp.Diff(want, list.Items); diff != "" {
		t.Errorf("Items mismatch (-want +got):\n%s", diff)
	}
	if cfg.Groups[2].IsSubscribable() {
		t.Error("echo is subscribable, want false")
	}
	if !cfg.Groups[0].IsSubscribable() {
		t.Error("motd is not subscribable, want default true")
	}
	if cfg.Groups[3].CallTimeout.Duration != 10*time.Second {
		t.Errorf("CallTimeout = %v, want 10s", cfg.Groups[3].CallTimeout)
	}
	if diff := cmp.Diff([]string{"todos"}, cfg.SnapshotLists()); diff != "" {
		t.Errorf("SnapshotLists() mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, want none", cfg.Warnings())
	}
}

func TestLoadUnknownKeysWarn(t *testing.T) {
	cfg, err := Load(writeConfig(t, "adress = \":1\"\n[session]\nread_timout = \"1s\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := strings.Join(cfg.Warnings(), "; ")
	for _, key := range []string{"adress", "session.read_timout"} {
		if !strings.Contains(got, key) {
			t.Errorf("Warnings() = %q, missing %s", got, key)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	var e *cerrors.Error
	if !errors.As(err, &e) || e.Code != "S100" {
		t.Fatalf("Load() error = %v, want S100", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error does not wrap ErrNotExist")
	}
}

func TestLoadSyntaxError(t *testing.T) {
	path := writeConfig(t, "address = \":1\"\npath = \n")
	_, err := Load(path)
	var e *cerrors.Error
	if !errors.As(err, &e) || e.Code != "S101" {
		t.Fatalf("Load() error = %v, want S101", err)
	}
	if e.Location == nil || e.Location.Line != 2 {
		t.Errorf("Location = %v, want line 2", e.Location)
	}
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "shutdown_timeout = \"soon\"\n"))
	if err == nil {
		t.Fatal("Load() accepted an invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		toml string
		code string
		want string
	}{
		{"bad path", `path = "ws"`, "S102", "must start with /"},
		{"bad level", `log_level = "loud"`, "S102", "log_level"},
		{"bad format", `log_format = "xml"`, "S102", "log_format"},
		{"heartbeat", "[session]\nheartbeat_interval = \"2m\"", "S102", "shorter than"},
		{"zero duration", "[snapshot]\ninterval = \"0s\"", "S102", "snapshot.interval"},
		{"s3 bucket", "[snapshot]\nbackend = \"s3\"", "S102", "bucket"},
		{"backend", "[snapshot]\nbackend = \"disk\"", "S102", "snapshot.backend"},
		{"no name", "[[group]]\nkind = \"var\"", "S103", "name is required"},
		{"bad kind", "[[group]]\nkind = \"map\"\nname = \"m\"", "S103", "kind \"map\""},
		{"duplicate", "[[group]]\nkind = \"var\"\nname = \"a\"\n[[group]]\nkind = \"list\"\nname = \"a\"", "S103", "reuses the name"},
		{"function both", "[[group]]\nkind = \"function\"\nname = \"f\"\nbuiltin = \"echo\"\nremote = true", "S103", "exactly one"},
		{"function neither", "[[group]]\nkind = \"function\"\nname = \"f\"", "S103", "exactly one"},
		{"builtin", "[[group]]\nkind = \"function\"\nname = \"f\"\nbuiltin = \"rm\"", "S103", "unknown builtin"},
		{"item ids", "[[group]]\nkind = \"list\"\nname = \"l\"\nitems = [{id = \"a\", value = 1}, {id = \"a\", value = 2}]", "S103", "repeats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.toml)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			err = cfg.Validate()
			var e *cerrors.Error
			if !errors.As(err, &e) || e.Code != tt.code {
				t.Fatalf("Validate() = %v, want code %s", err, tt.code)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("trace"); ok {
		t.Error("ParseLevel(trace) ok, want false")
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 90s ")); err != nil || d.Duration != 90*time.Second {
		t.Fatalf("UnmarshalText() = %v, %v", d, err)
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Errorf("MarshalText() = %q, want 1m30s", b)
	}
}
