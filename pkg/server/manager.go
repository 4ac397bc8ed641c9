package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/socksync/pkg/group"
)

// ConnManager tracks all live connections.
// It enforces the connection limit, closes idle connections and runs the
// lifecycle callbacks.
type ConnManager struct {
	// Connections map protected by RWMutex
	conns map[string]*Conn
	mu    sync.RWMutex

	registry *group.Registry

	// Limits
	maxConns    int
	idleTimeout time.Duration

	// Cleanup
	cleanupInterval time.Duration
	done            chan struct{}
	cleanupDone     chan struct{}
	shutdownOnce    sync.Once

	// Metrics
	totalOpened atomic.Uint64
	totalClosed atomic.Uint64
	rejected    atomic.Uint64
	peak        int

	// Callbacks
	onConnect    func(*Conn)
	onDisconnect func(*Conn)

	logger *slog.Logger
}

// NewConnManager creates a manager for connections to the groups in
// registry.
func NewConnManager(registry *group.Registry, maxConns int, idleTimeout, cleanupInterval time.Duration, logger *slog.Logger) *ConnManager {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}

	cm := &ConnManager{
		conns:           make(map[string]*Conn),
		registry:        registry,
		maxConns:        maxConns,
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		logger:          logger.With("component", "conn_manager"),
	}

	go cm.cleanupLoop()

	return cm
}

// Add registers c. It returns ErrMaxConnections when the limit is reached.
func (cm *ConnManager) Add(c *Conn) error {
	cm.mu.Lock()
	if cm.maxConns > 0 && len(cm.conns) >= cm.maxConns {
		cm.mu.Unlock()
		cm.rejected.Add(1)
		return ErrMaxConnections
	}
	cm.conns[c.ID()] = c
	if len(cm.conns) > cm.peak {
		cm.peak = len(cm.conns)
	}
	active := len(cm.conns)
	cm.mu.Unlock()

	cm.totalOpened.Add(1)
	c.onClose = cm.remove

	cm.logger.Info("connection opened",
		"conn_id", c.ID(),
		"remote_addr", c.RemoteAddr,
		"active_connections", active)

	if cm.onConnect != nil {
		cm.onConnect(c)
	}
	return nil
}

// remove is the close hook of every managed connection.
func (cm *ConnManager) remove(c *Conn) {
	cm.mu.Lock()
	_, ok := cm.conns[c.ID()]
	delete(cm.conns, c.ID())
	active := len(cm.conns)
	cm.mu.Unlock()

	if !ok {
		return
	}

	if cm.registry != nil {
		cm.registry.UnsubscribeAll(c)
	}
	cm.totalClosed.Add(1)

	in, out := c.Stats()
	cm.logger.Info("connection closed",
		"conn_id", c.ID(),
		"reason", c.Err(),
		"messages_in", in,
		"messages_out", out,
		"active_connections", active)

	if cm.onDisconnect != nil {
		cm.onDisconnect(c)
	}
}

// Get returns the connection with the given id, or nil.
func (cm *ConnManager) Get(id string) *Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conns[id]
}

// Count returns the number of live connections.
func (cm *ConnManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// ForEach iterates over all connections.
// The callback should not perform long-running operations as it holds the read lock.
func (cm *ConnManager) ForEach(fn func(*Conn) bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, c := range cm.conns {
		if !fn(c) {
			break
		}
	}
}

// SetOnConnect sets the callback run after a connection is registered.
func (cm *ConnManager) SetOnConnect(fn func(*Conn)) {
	cm.onConnect = fn
}

// SetOnDisconnect sets the callback run after a connection is removed.
func (cm *ConnManager) SetOnDisconnect(fn func(*Conn)) {
	cm.onDisconnect = fn
}

// cleanupLoop periodically closes idle connections.
func (cm *ConnManager) cleanupLoop() {
	defer close(cm.cleanupDone)

	ticker := time.NewTicker(cm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.cleanupIdle()
		case <-cm.done:
			return
		}
	}
}

// cleanupIdle closes connections that sent nothing within the idle timeout.
func (cm *ConnManager) cleanupIdle() {
	if cm.idleTimeout <= 0 {
		return
	}

	now := time.Now()
	var idle []*Conn

	cm.mu.RLock()
	for _, c := range cm.conns {
		if now.Sub(c.LastActive()) > cm.idleTimeout {
			idle = append(idle, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range idle {
		c.closeWithError(ErrIdleTimeout)
	}

	if len(idle) > 0 {
		cm.logger.Info("closed idle connections", "count", len(idle))
	}
}

// Shutdown closes every connection and waits for their cleanup to finish or
// ctx to end.
func (cm *ConnManager) Shutdown(ctx context.Context) error {
	cm.shutdownOnce.Do(func() {
		close(cm.done)
	})
	<-cm.cleanupDone

	cm.mu.RLock()
	conns := make([]*Conn, 0, len(cm.conns))
	for _, c := range cm.conns {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.closeWithError(ErrServerShutdown)
	}

	for _, c := range conns {
		select {
		case <-c.finished:
		case <-ctx.Done():
			cm.logger.Warn("shutdown interrupted", "remaining", cm.Count(), "error", ctx.Err())
			return ctx.Err()
		}
	}

	cm.logger.Info("connection manager shutdown", "closed_connections", len(conns))
	return nil
}

// Stats returns aggregated connection statistics.
func (cm *ConnManager) Stats() ManagerStats {
	cm.mu.RLock()
	active := len(cm.conns)
	peak := cm.peak
	cm.mu.RUnlock()

	return ManagerStats{
		Active:      active,
		TotalOpened: cm.totalOpened.Load(),
		TotalClosed: cm.totalClosed.Load(),
		Rejected:    cm.rejected.Load(),
		Peak:        peak,
	}
}

// ManagerStats contains aggregated connection manager statistics.
type ManagerStats struct {
	Active      int
	TotalOpened uint64
	TotalClosed uint64
	Rejected    uint64
	Peak        int
}
