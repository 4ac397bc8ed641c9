package grouptest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
)

// ErrWaitTimeout is returned by Wait when too few messages arrive in time.
var ErrWaitTimeout = errors.New("grouptest: timed out waiting for messages")

// Recorder is a group.Connection that records what it is sent.
type Recorder struct {
	id string

	mu         sync.Mutex
	cond       *sync.Cond
	messages   []protocol.Message
	subscribed map[string]bool
	sendErr    error
}

// NewRecorder creates a recorder with the given connection id.
func NewRecorder(id string) *Recorder {
	r := &Recorder{
		id:         id,
		subscribed: make(map[string]bool),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ID implements group.Connection.
func (r *Recorder) ID() string {
	return r.id
}

// Send implements group.Connection. The message is cloned so later changes
// by the sender do not alter the record.
func (r *Recorder) Send(msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.messages = append(r.messages, msg.Clone())
	r.cond.Broadcast()
	return nil
}

// IsSubscribed implements group.Connection.
func (r *Recorder) IsSubscribed(g group.Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribed[g.Name()]
}

// SendNameError implements group.Connection.
func (r *Recorder) SendNameError(groupType group.Kind, groupName, itemID string) {
	_ = r.Send(protocol.NameError(string(groupType), groupName, itemID))
}

// SendGeneralError implements group.Connection.
func (r *Recorder) SendGeneralError(message string) {
	_ = r.Send(protocol.GeneralError(message))
}

// Subscribe marks the recorder subscribed and adds it to g.
func (r *Recorder) Subscribe(g group.Group) {
	r.mu.Lock()
	r.subscribed[g.Name()] = true
	r.mu.Unlock()
	g.Subscribe(r)
}

// Unsubscribe removes the recorder from g.
func (r *Recorder) Unsubscribe(g group.Group) {
	r.mu.Lock()
	delete(r.subscribed, g.Name())
	r.mu.Unlock()
	g.Unsubscribe(r)
}

// SetSendError makes every following Send fail with err. nil restores
// normal behavior.
func (r *Recorder) SetSendError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len returns the number of recorded messages.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Last returns the most recent message, or nil.
func (r *Recorder) Last() protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

// Errors returns the recorded error messages.
func (r *Recorder) Errors() []protocol.Message {
	var out []protocol.Message
	for _, m := range r.Messages() {
		if m.IsError() {
			out = append(out, m)
		}
	}
	return out
}

// Reset discards the recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// Wait blocks until at least n messages are recorded or timeout elapses.
func (r *Recorder) Wait(n int, timeout time.Duration) ([]protocol.Message, error) {
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.messages) < n {
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrWaitTimeout, len(r.messages), n)
		}
		r.cond.Wait()
	}
	out := make([]protocol.Message, len(r.messages))
	copy(out, r.messages)
	return out, nil
}
