package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection and server error conditions.
var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrSendQueueFull is the close reason of a connection whose send queue
	// overflowed.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrMaxConnections is returned when the connection limit is reached.
	ErrMaxConnections = errors.New("server: max connections reached")

	// ErrIdleTimeout is the close reason of a connection that stayed idle
	// past the idle timeout.
	ErrIdleTimeout = errors.New("server: idle timeout")

	// ErrServerShutdown is the close reason of connections closed by
	// Shutdown.
	ErrServerShutdown = errors.New("server: shutting down")

	// ErrInvalidConfig is returned by ServerConfig.Validate.
	ErrInvalidConfig = errors.New("server: invalid config")
)

// ConnError wraps an error with connection context.
type ConnError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError creates a new ConnError.
func NewConnError(connID, op string, err error) *ConnError {
	return &ConnError{
		ConnID: connID,
		Op:     op,
		Err:    err,
	}
}
