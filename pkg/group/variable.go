package group

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// Variable is a single value of type T shared with every subscriber.
//
// Reads and writes of the value happen under a mutex; the broadcast that
// follows a write happens after the mutex is released and carries the value
// read at send time.
type Variable[T any] struct {
	base

	mu    sync.Mutex
	value T
}

// NewVariable creates a variable holding initial.
func NewVariable[T any](name string, initial T, opts ...Option) *Variable[T] {
	o := applyOptions(opts)
	return &Variable[T]{
		base:  newBase(name, KindVar, o),
		value: initial,
	}
}

// Get returns the current value.
func (v *Variable[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set stores value and notifies every subscriber.
func (v *Variable[T]) Set(value T) {
	v.SetFrom(value, nil)
}

// SetFrom stores value and notifies every subscriber except ignore.
func (v *Variable[T]) SetFrom(value T, ignore Connection) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()

	v.broadcast(v.current(), ignore)
}

// current returns the "set" message for the value held right now.
func (v *Variable[T]) current() protocol.Message {
	msg := v.message(protocol.FuncSet)
	msg[protocol.FieldValue] = v.Get()
	return msg
}

// HandleCommand implements Group.
func (v *Variable[T]) HandleCommand(fn string, payload protocol.Message, origin Connection) protocol.Message {
	if !v.allowed(v, fn, origin) {
		return nil
	}

	switch fn {
	case protocol.FuncGet:
		return v.current()

	case protocol.FuncSet:
		raw, ok := payload[protocol.FieldValue]
		if !ok {
			v.reportMissing(origin, fn, protocol.FieldValue)
			return nil
		}
		value, err := convert[T](raw)
		if err != nil {
			v.logger.Debug("rejected value", "error", err)
			if origin != nil {
				origin.SendGeneralError(fmt.Sprintf("set on %s: invalid value: %v", v.name, err))
			}
			return nil
		}
		v.SetFrom(value, origin)
		return nil

	default:
		v.reportUnsupported(origin, fn)
		return nil
	}
}

// convert turns a decoded wire value into T. Values that already have type
// T are used directly; anything else goes through a JSON round trip.
func convert[T any](raw any) (T, error) {
	if t, ok := raw.(T); ok {
		return t, nil
	}
	var out T
	data, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
