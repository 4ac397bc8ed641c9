package server

import (
	"context"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// DispatchFunc handles one decoded inbound message from c. The returned
// message, if any, is sent back to c.
type DispatchFunc func(ctx context.Context, c *Conn, msg protocol.Message) protocol.Message

// DispatchMiddleware wraps a DispatchFunc.
type DispatchMiddleware func(next DispatchFunc) DispatchFunc

// Chain composes middleware so that the first one is outermost.
func Chain(final DispatchFunc, mw ...DispatchMiddleware) DispatchFunc {
	h := final
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
