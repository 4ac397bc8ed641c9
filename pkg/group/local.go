package group

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// Func is the server-side procedure behind a LocalFunction. args holds the
// decoded "args" object of the call; it is never nil.
type Func func(ctx context.Context, args map[string]any) (any, error)

// LocalFunction is a function implemented on the server and invoked by
// subscribers. Each call runs in its own goroutine; the result is sent back
// to the caller as a "return" message.
type LocalFunction struct {
	base

	fn      Func
	timeout time.Duration
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalFunction creates a local function backed by fn.
func NewLocalFunction(name string, fn Func, opts ...Option) *LocalFunction {
	o := applyOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	f := &LocalFunction{
		base:    newBase(name, KindFunction, o),
		fn:      fn,
		timeout: o.callTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	if o.maxConcurrent > 0 {
		f.sem = semaphore.NewWeighted(o.maxConcurrent)
	}
	return f
}

// Call runs the function synchronously on the calling goroutine.
func (f *LocalFunction) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if f.sem != nil {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer f.sem.Release(1)
	}
	return f.invoke(ctx, args)
}

// Close cancels the context of every running invocation. Calls arriving
// afterwards fail with context.Canceled.
func (f *LocalFunction) Close() {
	f.cancel()
}

// Wait blocks until every running invocation has sent its reply.
func (f *LocalFunction) Wait() {
	f.wg.Wait()
}

// HandleCommand implements Group.
func (f *LocalFunction) HandleCommand(fn string, payload protocol.Message, origin Connection) protocol.Message {
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
		if origin == nil {
			f.logger.Debug("dropped call without origin", "call_id", id)
			return nil
		}
		args, _ := payload.Map(protocol.FieldArgs)
		if args == nil {
			args = map[string]any{}
		}
		f.wg.Add(1)
		go f.run(id, args, origin)
		return nil

	case protocol.FuncReturn:
		f.logger.Debug("dropped return for local function", "call_id", id)
		return nil

	default:
		f.reportUnsupported(origin, fn)
		return nil
	}
}

// run executes one wire call and replies to origin.
func (f *LocalFunction) run(id string, args map[string]any, origin Connection) {
	defer f.wg.Done()

	value, err := f.Call(f.ctx, args)

	msg := f.message(protocol.FuncReturn)
	msg[protocol.FieldID] = id
	msg[protocol.FieldValue] = value
	if err != nil {
		f.logger.Warn("function call failed", "conn_id", origin.ID(), "call_id", id, "error", err)
		msg[protocol.FieldValue] = nil
		msg[protocol.FieldError] = errorText(err)
	}
	f.send(origin, msg)
}

// invoke calls fn, converting a panic into ErrFunctionPanic.
func (f *LocalFunction) invoke(ctx context.Context, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("function panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			value = nil
			err = fmt.Errorf("%w: %v", ErrFunctionPanic, r)
		}
	}()
	return f.fn(ctx, args)
}

// errorText is the text placed in the "error" field of a failed return.
// Panic details stay in the server log.
func errorText(err error) string {
	if errors.Is(err, ErrFunctionPanic) {
		return "internal error"
	}
	return err.Error()
}
