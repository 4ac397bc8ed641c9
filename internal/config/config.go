package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/socksync/internal/errors"
)

const (
	// DefaultFileName is the configuration file looked up when none is given.
	DefaultFileName = "socksync.toml"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultPath is the default WebSocket endpoint.
	DefaultPath = "/ws"
)

// Group kinds, snapshot backends and builtin function names.
const (
	KindVar      = "var"
	KindList     = "list"
	KindFunction = "function"

	BackendNone   = "none"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Builtins lists the local function names a [[group]] may bind with
// builtin = "...".
var Builtins = []string{"echo", "sum", "time"}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the complete socksync.toml configuration.
type Config struct {
	// Address is the listen address.
	Address string `toml:"address"`

	// Path is the WebSocket endpoint.
	Path string `toml:"path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	// MaxConnections limits concurrent connections; 0 means no limit.
	MaxConnections int `toml:"max_connections"`

	// AllowAllOrigins disables the same-origin check on upgrade.
	AllowAllOrigins bool `toml:"allow_all_origins"`

	Session  SessionConfig  `toml:"session"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`
	Snapshot SnapshotConfig `toml:"snapshot"`

	// Groups are the groups to register, in declaration order.
	Groups []GroupConfig `toml:"group"`

	// path stores the path where the config was loaded from.
	path string

	// warnings collects non-fatal findings from Load.
	warnings []string
}

// SessionConfig contains per-connection settings.
type SessionConfig struct {
	ReadTimeout       Duration `toml:"read_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
	IdleTimeout       Duration `toml:"idle_timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	MaxMessageSize    int64    `toml:"max_message_size"`
	SendQueueSize     int      `toml:"send_queue_size"`
	MessagesPerSecond float64  `toml:"messages_per_second"`
	MessageBurst      int      `toml:"message_burst"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Path      string `toml:"path"`
	Namespace string `toml:"namespace"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `toml:"enabled"`
	TracerName string `toml:"tracer_name"`
}

// SnapshotConfig selects where list snapshots are kept.
type SnapshotConfig struct {
	// Backend is memory, s3 or none.
	Backend string `toml:"backend"`

	// Bucket, Prefix and Region configure the s3 backend.
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
	Region string `toml:"region"`

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `toml:"endpoint"`

	// Interval is the time between saves.
	Interval Duration `toml:"interval"`
}

// GroupConfig declares one group.
type GroupConfig struct {
	Kind string `toml:"kind"`
	Name string `toml:"name"`

	// Subscribable defaults to true.
	Subscribable *bool `toml:"subscribable"`

	// Value is the initial value of a var.
	Value any `toml:"value"`

	// PageSize, PeerSetAll, Snapshot and Items configure a list.
	PageSize   int          `toml:"page_size"`
	PeerSetAll bool         `toml:"peer_set_all"`
	Snapshot   bool         `toml:"snapshot"`
	Items      []ItemConfig `toml:"items"`

	// Builtin binds a local function; Remote declares a function the
	// server calls on its peers.
	Builtin       string   `toml:"builtin"`
	Remote        bool     `toml:"remote"`
	CallTimeout   Duration `toml:"call_timeout"`
	MaxConcurrent int      `toml:"max_concurrent"`
}

// ItemConfig is an initial list item.
type ItemConfig struct {
	ID    string `toml:"id"`
	Value any    `toml:"value"`
}

// IsSubscribable reports the effective subscribable flag.
func (g GroupConfig) IsSubscribable() bool {
	return g.Subscribable == nil || *g.Subscribable
}

// Default returns a Config with default values and no groups.
func Default() *Config {
	return &Config{
		Address:         DefaultAddress,
		Path:            DefaultPath,
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: Duration{30 * time.Second},
		Session: SessionConfig{
			ReadTimeout:       Duration{60 * time.Second},
			WriteTimeout:      Duration{10 * time.Second},
			IdleTimeout:       Duration{5 * time.Minute},
			HeartbeatInterval: Duration{30 * time.Second},
			MaxMessageSize:    64 * 1024,
			SendQueueSize:     256,
			MessagesPerSecond: 50,
			MessageBurst:      100,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "socksync",
		},
		Tracing: TracingConfig{
			TracerName: "socksync",
		},
		Snapshot: SnapshotConfig{
			Backend:  BackendMemory,
			Prefix:   "socksync/",
			Interval: Duration{30 * time.Second},
		},
	}
}

// Load reads configuration from the TOML file at path. Keys missing from
// the file keep their defaults. Unknown keys do not fail the load; they are
// reported by Warnings.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New("S100").
			Wrap(err).
			WithSuggestion("Pass --config with the path of a socksync.toml file")
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, parseError(path, err)
	}

	cfg.path = path
	for _, key := range meta.Undecoded() {
		cfg.warnings = append(cfg.warnings, fmt.Sprintf("unknown key %q", key.String()))
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Parse is Load for configuration text held in memory.
func Parse(data string) (*Config, error) {
	cfg := Default()
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, parseError("", err)
	}
	for _, key := range meta.Undecoded() {
		cfg.warnings = append(cfg.warnings, fmt.Sprintf("unknown key %q", key.String()))
	}
	cfg.applyDefaults()
	return cfg, nil
}

func parseError(path string, err error) error {
	e := errors.New("S101").WithDetail(err.Error())
	if perr, ok := err.(toml.ParseError); ok {
		e.WithDetail(perr.Message)
		if path != "" && perr.Position.Line > 0 {
			e.WithLocation(path, perr.Position.Line, perr.Position.Col)
		}
		if perr.Usage != "" {
			e.WithSuggestion(strings.TrimSpace(perr.Usage))
		}
	}
	return e.Wrap(err)
}

// applyDefaults fills in per-group defaults.
func (c *Config) applyDefaults() {
	for i := range c.Groups {
		g := &c.Groups[i]
		g.Kind = strings.TrimSpace(g.Kind)
		g.Name = strings.TrimSpace(g.Name)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = BackendMemory
	}
}

// FilePath returns the path the config was loaded from.
func (c *Config) FilePath() string {
	return c.path
}

// Warnings returns the non-fatal findings of Load, such as unknown keys.
func (c *Config) Warnings() []string {
	return c.warnings
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New("S102").WithDetailf(format, args...)
	}

	if !strings.HasPrefix(c.Path, "/") {
		return invalid("path %q must start with /", c.Path)
	}
	if _, ok := ParseLevel(c.LogLevel); !ok {
		return invalid("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return invalid("log_format %q is not text or json", c.LogFormat)
	}
	if c.MaxConnections < 0 {
		return invalid("max_connections must not be negative")
	}

	durations := []struct {
		key string
		d   Duration
	}{
		{"shutdown_timeout", c.ShutdownTimeout},
		{"session.read_timeout", c.Session.ReadTimeout},
		{"session.write_timeout", c.Session.WriteTimeout},
		{"session.idle_timeout", c.Session.IdleTimeout},
		{"session.heartbeat_interval", c.Session.HeartbeatInterval},
		{"snapshot.interval", c.Snapshot.Interval},
	}
	for _, d := range durations {
		if d.d.Duration <= 0 {
			return invalid("%s must be positive, got %s", d.key, d.d)
		}
	}
	if c.Session.HeartbeatInterval.Duration >= c.Session.ReadTimeout.Duration {
		return invalid("session.heartbeat_interval %s must be shorter than session.read_timeout %s",
			c.Session.HeartbeatInterval, c.Session.ReadTimeout)
	}
	if c.Session.MaxMessageSize < 0 || c.Session.SendQueueSize < 0 ||
		c.Session.MessagesPerSecond < 0 || c.Session.MessageBurst < 0 {
		return invalid("session limits must not be negative")
	}

	switch c.Snapshot.Backend {
	case BackendNone, BackendMemory:
	case BackendS3:
		if c.Snapshot.Bucket == "" {
			return errors.New("S102").
				WithDetail("snapshot.bucket is required with backend \"s3\"").
				WithSuggestion("Set bucket = \"my-bucket\" under [snapshot]")
		}
	default:
		return invalid("snapshot.backend %q is not one of memory, s3, none", c.Snapshot.Backend)
	}

	seen := make(map[string]int, len(c.Groups))
	for i, g := range c.Groups {
		if err := g.validate(i); err != nil {
			return err
		}
		if first, dup := seen[g.Name]; dup {
			return errors.New("S103").WithDetailf("group %d reuses the name %q of group %d", i+1, g.Name, first+1)
		}
		seen[g.Name] = i
	}
	return nil
}

func (g GroupConfig) validate(i int) error {
	invalid := func(format string, args ...any) error {
		return errors.New("S103").WithDetailf("group %d (%s): "+format, append([]any{i + 1, g.Name}, args...)...)
	}

	if g.Name == "" {
		return invalid("name is required")
	}
	switch g.Kind {
	case KindVar:
	case KindList:
		if g.PageSize < 0 {
			return invalid("page_size must not be negative")
		}
		ids := make(map[string]bool, len(g.Items))
		for _, it := range g.Items {
			if it.ID == "" {
				continue
			}
			if ids[it.ID] {
				return invalid("item id %q repeats", it.ID)
			}
			ids[it.ID] = true
		}
	case KindFunction:
		if g.Remote == (g.Builtin != "") {
			return errors.New("S103").
				WithDetailf("group %d (%s): a function needs exactly one of builtin or remote", i+1, g.Name).
				WithSuggestion(`Use builtin = "echo" for a server function or remote = true for a peer function`)
		}
		if g.Builtin != "" && !isBuiltin(g.Builtin) {
			return invalid("unknown builtin %q (known: %s)", g.Builtin, strings.Join(Builtins, ", "))
		}
		if g.CallTimeout.Duration < 0 || g.MaxConcurrent < 0 {
			return invalid("call_timeout and max_concurrent must not be negative")
		}
	default:
		return invalid("kind %q is not one of var, list, function", g.Kind)
	}
	return nil
}

func isBuiltin(name string) bool {
	i := sort.SearchStrings(Builtins, name)
	return i < len(Builtins) && Builtins[i] == name
}

// ParseLevel maps a log_level value to a slog.Level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// SnapshotLists returns the names of the lists declared with
// snapshot = true.
func (c *Config) SnapshotLists() []string {
	var names []string
	for _, g := range c.Groups {
		if g.Kind == KindList && g.Snapshot {
			names = append(names, g.Name)
		}
	}
	return names
}
