package server

import (
	"sync/atomic"
	"time"
)

// ServerMetrics aggregates metrics across the server.
type ServerMetrics struct {
	// Connections
	ActiveConnections int64
	TotalConnections  int64
	ClosedConnections int64
	PeakConnections   int64
	RejectedUpgrades  int64

	// Messages
	MessagesReceived int64
	MessagesSent     int64
	BytesReceived    int64
	BytesSent        int64

	// Errors
	DecodeErrors   int64
	RateLimited    int64
	DispatchPanics int64
	WriteErrors    int64
	ReadErrors     int64

	// Groups
	Groups int64

	// Timestamp
	CollectedAt time.Time
}

// Metrics collects and returns server metrics.
func (s *Server) Metrics() *ServerMetrics {
	stats := s.conns.Stats()
	snap := s.metrics.Snapshot()

	return &ServerMetrics{
		ActiveConnections: int64(stats.Active),
		TotalConnections:  int64(stats.TotalOpened),
		ClosedConnections: int64(stats.TotalClosed),
		PeakConnections:   int64(stats.Peak),
		RejectedUpgrades:  int64(stats.Rejected),
		MessagesReceived:  snap.MessagesReceived,
		MessagesSent:      snap.MessagesSent,
		BytesReceived:     snap.BytesReceived,
		BytesSent:         snap.BytesSent,
		DecodeErrors:      snap.DecodeErrors,
		RateLimited:       snap.RateLimited,
		DispatchPanics:    snap.DispatchPanics,
		WriteErrors:       snap.WriteErrors,
		ReadErrors:        snap.ReadErrors,
		Groups:            int64(len(s.registry.Groups())),
		CollectedAt:       time.Now(),
	}
}

// MetricsCollector counts transport-level events. The zero value is ready
// to use.
type MetricsCollector struct {
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	bytesReceived    atomic.Int64
	bytesSent        atomic.Int64
	decodeErrors     atomic.Int64
	rateLimited      atomic.Int64
	dispatchPanics   atomic.Int64
	writeErrors      atomic.Int64
	readErrors       atomic.Int64
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordMessageReceived records an inbound frame of n bytes.
func (m *MetricsCollector) RecordMessageReceived(n int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(int64(n))
}

// RecordMessageSent records an outbound frame of n bytes.
func (m *MetricsCollector) RecordMessageSent(n int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(n))
}

// RecordDecodeError records an inbound frame that was not a valid message.
func (m *MetricsCollector) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordRateLimited records a message dropped by the rate limiter.
func (m *MetricsCollector) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// RecordDispatchPanic records a panic recovered during dispatch.
func (m *MetricsCollector) RecordDispatchPanic() {
	m.dispatchPanics.Add(1)
}

// RecordWriteError records a failed socket write.
func (m *MetricsCollector) RecordWriteError() {
	m.writeErrors.Add(1)
}

// RecordReadError records an unexpected socket read failure.
func (m *MetricsCollector) RecordReadError() {
	m.readErrors.Add(1)
}

// MetricsSnapshot is a point-in-time copy of a MetricsCollector.
type MetricsSnapshot struct {
	MessagesReceived int64
	MessagesSent     int64
	BytesReceived    int64
	BytesSent        int64
	DecodeErrors     int64
	RateLimited      int64
	DispatchPanics   int64
	WriteErrors      int64
	ReadErrors       int64
}

// Snapshot returns the current counter values.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		MessagesReceived: m.messagesReceived.Load(),
		MessagesSent:     m.messagesSent.Load(),
		BytesReceived:    m.bytesReceived.Load(),
		BytesSent:        m.bytesSent.Load(),
		DecodeErrors:     m.decodeErrors.Load(),
		RateLimited:      m.rateLimited.Load(),
		DispatchPanics:   m.dispatchPanics.Load(),
		WriteErrors:      m.writeErrors.Load(),
		ReadErrors:       m.readErrors.Load(),
	}
}

// Reset zeroes every counter.
func (m *MetricsCollector) Reset() {
	m.messagesReceived.Store(0)
	m.messagesSent.Store(0)
	m.bytesReceived.Store(0)
	m.bytesSent.Store(0)
	m.decodeErrors.Store(0)
	m.rateLimited.Store(0)
	m.dispatchPanics.Store(0)
	m.writeErrors.Store(0)
	m.readErrors.Store(0)
}
