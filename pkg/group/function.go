package group

import (
	"context"
	"sync"
	"time"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// DefaultCallTimeout bounds a function call when no WithCallTimeout option is
// given.
const DefaultCallTimeout = 30 * time.Second

// NotCallableValue is returned to a peer that sends "call" to a RemoteFunction.
const NotCallableValue = "Function is not callable!"

type waiter struct {
	connID string
	ch     chan any
}

// RemoteFunction is a function implemented by subscribers and invoked by the
// server.
type RemoteFunction struct {
	base

	timeout time.Duration
	newID   func() string

	mu      sync.Mutex
	waiters map[string]waiter
	ignored map[string]string // call id -> conn id
}

// NewRemoteFunction creates a remote function.
func NewRemoteFunction(name string, opts ...Option) *RemoteFunction {
	o := applyOptions(opts)
	return &RemoteFunction{
		base:    newBase(name, KindFunction, o),
		timeout: o.callTimeout,
		newID:   o.newID,
		waiters: make(map[string]waiter),
		ignored: make(map[string]string),
	}
}

// Unsubscribe removes c, aborts every call waiting on it and forgets the
// ignored ids sent to it.
func (f *RemoteFunction) Unsubscribe(c Connection) {
	if c == nil {
		return
	}
	f.removeSubscriber(c)

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, w := range f.waiters {
		if w.connID == c.ID() {
			delete(f.waiters, id)
			close(w.ch)
		}
	}
	for id, connID := range f.ignored {
		if connID == c.ID() {
			delete(f.ignored, id)
		}
	}
}

// CallBlocking invokes the function on c and waits for its return value.
//
// It returns ErrNotSubscribed without sending anything when c is not
// subscribed, ErrCallTimeout when the call timeout elapses, ctx.Err() when
// ctx is done first, and ErrCallAborted when c unsubscribes while the call is
// outstanding.
func (f *RemoteFunction) CallBlocking(ctx context.Context, c Connection, args map[string]any) (any, error) {
	if c == nil || !c.IsSubscribed(f) {
		return nil, ErrNotSubscribed
	}

	id := f.newID()
	ch := make(chan any, 1)

	// Unsubscribe removes the subscriber before it takes f.mu, so a
	// subscriber still present here will find and close this waiter.
	f.mu.Lock()
	if !f.hasSubscriber(c) {
		f.mu.Unlock()
		return nil, ErrCallAborted
	}
	f.waiters[id] = waiter{connID: c.ID(), ch: ch}
	f.mu.Unlock()
	defer f.forget(id)

	if err := c.Send(f.callMessage(id, args)); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if f.timeout > 0 {
		timer := time.NewTimer(f.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case value, ok := <-ch:
		if !ok {
			return nil, ErrCallAborted
		}
		return value, nil
	case <-timeout:
		f.logger.Warn("remote call timed out", "conn_id", c.ID(), "call_id", id, "timeout", f.timeout)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallAll invokes the function on every subscriber without waiting for the
// results. It returns the call ids, one per subscriber.
func (f *RemoteFunction) CallAll(args map[string]any) []string {
	subs := f.snapshot()
	ids := make([]string, 0, len(subs))
	for _, c := range subs {
		id := f.newID()
		f.mu.Lock()
		f.ignored[id] = c.ID()
		f.mu.Unlock()

		f.send(c, f.callMessage(id, args))
		ids = append(ids, id)
	}
	return ids
}

// Pending returns the number of calls waiting for a return.
func (f *RemoteFunction) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// HandleCommand implements Group.
func (f *RemoteFunction) HandleCommand(fn string, payload protocol.Message, origin Connection) protocol.Message {
	if !f.allowed(f, fn, origin) {
		return nil
	}

	id, ok := itemID(payload)
	if !ok {
		if origin != nil {
			origin.SendGeneralError("missing id")
		}
		return nil
	}

	switch fn {
	case protocol.FuncCall:
		msg := f.message(protocol.FuncReturn)
		msg[protocol.FieldID] = id
		msg[protocol.FieldValue] = NotCallableValue
		return msg

	case protocol.FuncReturn:
		f.deliver(id, payload[protocol.FieldValue], origin)
		return nil

	default:
		f.reportUnsupported(origin, fn)
		return nil
	}
}

// deliver hands value to the caller waiting on id. A return from a
// connection other than the one called is dropped.
func (f *RemoteFunction) deliver(id string, value any, origin Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if connID, ok := f.ignored[id]; ok {
		if origin == nil || origin.ID() == connID {
			delete(f.ignored, id)
		}
		return
	}

	w, ok := f.waiters[id]
	if !ok {
		f.logger.Debug("dropped return for unknown call", "call_id", id)
		return
	}
	if origin != nil && origin.ID() != w.connID {
		f.logger.Debug("dropped return from wrong connection", "call_id", id, "conn_id", origin.ID())
		return
	}
	delete(f.waiters, id)
	w.ch <- value
}

func (f *RemoteFunction) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.waiters, id)
}

func (f *RemoteFunction) callMessage(id string, args map[string]any) protocol.Message {
	if args == nil {
		args = map[string]any{}
	}
	msg := f.message(protocol.FuncCall)
	msg[protocol.FieldID] = id
	msg[protocol.FieldArgs] = args
	return msg
}
