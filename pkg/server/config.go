package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// ConnConfig holds configuration for individual connections.
type ConnConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a frame or pong from the
	// peer. Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when writing a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// IdleTimeout is the time after which a connection that sent neither a
	// message nor a pong is closed. Default: 5 minutes.
	IdleTimeout time.Duration

	// HeartbeatInterval is the time between pings. Must be shorter than
	// ReadTimeout. Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming message.
	// Default: 64KB.
	MaxMessageSize int64

	// MaxDepth is the maximum JSON nesting depth of an incoming message.
	// Default: 64.
	MaxDepth int

	// SendQueueSize is the size of the outbound message buffer.
	// Default: 256.
	SendQueueSize int

	// MessagesPerSecond is the sustained inbound message rate. Zero
	// disables rate limiting. Default: 50.
	MessagesPerSecond float64

	// MessageBurst is the inbound burst size. Default: 100.
	MessageBurst int
}

// DefaultConnConfig returns a ConnConfig with sensible defaults.
func DefaultConnConfig() *ConnConfig {
	return &ConnConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    protocol.MaxMessageSize,
		MaxDepth:          protocol.MaxDepth,
		SendQueueSize:     256,
		MessagesPerSecond: 50,
		MessageBurst:      100,
	}
}

// Clone returns a copy of the ConnConfig.
func (c *ConnConfig) Clone() *ConnConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// limits returns the decode limits for inbound messages.
func (c *ConnConfig) limits() protocol.Limits {
	return protocol.Limits{MaxSize: int(c.MaxMessageSize), MaxDepth: c.MaxDepth}
}

// fillDefaults sets every zero field to its default.
func (c *ConnConfig) fillDefaults() {
	d := DefaultConnConfig()
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.MessageBurst == 0 {
		c.MessageBurst = d.MessageBurst
	}
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// Path is the WebSocket endpoint. Default: "/ws".
	Path string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// ConnConfig is the configuration for individual connections.
	// Default: DefaultConnConfig().
	ConnConfig *ConnConfig

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	MaxConnections int

	// CleanupInterval is the interval of the idle connection sweep.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// MetricsHandler, when set, is served at MetricsPath.
	MetricsHandler http.Handler

	// MetricsPath is where MetricsHandler is mounted. Default: "/metrics".
	MetricsPath string

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		Path:              "/ws",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		ConnConfig:        DefaultConnConfig(),
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxConnections:    0,
		CleanupInterval:   30 * time.Second,
		MetricsPath:       "/metrics",
	}
}

// fillDefaults sets every zero field to its default.
func (c *ServerConfig) fillDefaults() {
	d := DefaultServerConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
	if c.ConnConfig == nil {
		c.ConnConfig = d.ConnConfig
	}
	c.ConnConfig.fillDefaults()
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MetricsPath == "" {
		c.MetricsPath = d.MetricsPath
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate reports configuration values that cannot work together.
func (c *ServerConfig) Validate() error {
	cc := c.ConnConfig
	if cc == nil {
		return nil
	}
	if cc.HeartbeatInterval >= cc.ReadTimeout {
		return fmt.Errorf("%w: heartbeat interval %s must be shorter than read timeout %s",
			ErrInvalidConfig, cc.HeartbeatInterval, cc.ReadTimeout)
	}
	if cc.MaxMessageSize < 0 || cc.SendQueueSize < 0 || cc.MessagesPerSecond < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: negative max connections", ErrInvalidConfig)
	}
	return nil
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., non-browser client)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}

// AllowAllOrigins accepts every origin.
func AllowAllOrigins(*http.Request) bool {
	return true
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.ConnConfig != nil {
		clone.ConnConfig = c.ConnConfig.Clone()
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithConnConfig sets the connection configuration and returns the config for chaining.
func (c *ServerConfig) WithConnConfig(cc *ConnConfig) *ServerConfig {
	c.ConnConfig = cc
	return c
}

// WithMaxConnections sets the connection limit and returns the config for chaining.
func (c *ServerConfig) WithMaxConnections(max int) *ServerConfig {
	c.MaxConnections = max
	return c
}
