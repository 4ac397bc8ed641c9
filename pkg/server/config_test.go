package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewFillsDefaults(t *testing.T) {
	cfg := &ServerConfig{Address: ":9999", Logger: testLogger()}
	s := New(cfg, nil)
	defer s.Conns().Shutdown(context.Background())

	if s.Config().Path != "/ws" {
		t.Errorf("Path = %q, want /ws", s.Config().Path)
	}
	if s.Config().ConnConfig == nil || s.Config().ConnConfig.SendQueueSize != 256 {
		t.Errorf("ConnConfig not defaulted: %+v", s.Config().ConnConfig)
	}
	if s.Config().Address != ":9999" {
		t.Errorf("Address = %q, want :9999", s.Config().Address)
	}
	if s.Registry() == nil {
		t.Error("Registry() = nil")
	}
}

func TestValidateHeartbeat(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.ConnConfig.HeartbeatInterval = time.Minute
	cfg.ConnConfig.ReadTimeout = 30 * time.Second

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	if err := DefaultServerConfig().Validate(); err != nil {
		t.Errorf("default Validate() error = %v", err)
	}
}

func TestServerConfigClone(t *testing.T) {
	cfg := DefaultServerConfig()
	clone := cfg.Clone()
	clone.ConnConfig.SendQueueSize = 1

	if cfg.ConnConfig.SendQueueSize == 1 {
		t.Error("Clone() shares ConnConfig")
	}
	if (*ServerConfig)(nil).Clone() != nil {
		t.Error("nil Clone() != nil")
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"http://evil.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "http://example.com/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := SameOriginCheck(r); got != tt.want {
			t.Errorf("SameOriginCheck(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestConnErrorUnwrap(t *testing.T) {
	err := NewConnError("c1", "send", ErrSendQueueFull)
	if !errors.Is(err, ErrSendQueueFull) {
		t.Error("errors.Is(ConnError, ErrSendQueueFull) = false")
	}
	if err.Error() != "server: conn c1: send: server: send queue full" {
		t.Errorf("Error() = %q", err.Error())
	}
}
