package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vango-dev/socksync/pkg/group"
)

// Op is the kind of a record change.
type Op int

const (
	OpCreated Op = iota + 1
	OpUpdated
	OpDeleted
)

func (op Op) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpUpdated:
		return "updated"
	case OpDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// AppendIndex as a Change index appends the created item.
const AppendIndex = -1

// Change is one record change to mirror into a list.
type Change struct {
	Op    Op
	ID    string
	Value any

	// Index is the insert position for OpCreated; AppendIndex appends.
	Index int
}

// Created returns a change that appends a new item.
func Created(id string, value any) Change {
	return Change{Op: OpCreated, ID: id, Value: value, Index: AppendIndex}
}

// CreatedAt returns a change that inserts a new item at index.
func CreatedAt(index int, id string, value any) Change {
	return Change{Op: OpCreated, ID: id, Value: value, Index: index}
}

// Updated returns a change that replaces an item's value.
func Updated(id string, value any) Change {
	return Change{Op: OpUpdated, ID: id, Value: value}
}

// Deleted returns a change that removes an item.
func Deleted(id string) Change {
	return Change{Op: OpDeleted, ID: id}
}

// Apply applies c to l.
func Apply(l *group.List, c Change) error {
	switch c.Op {
	case OpCreated:
		var err error
		if c.Index < 0 {
			_, err = l.Append(c.ID, c.Value)
		} else {
			_, err = l.Insert(c.Index, c.ID, c.Value)
		}
		return err
	case OpUpdated:
		return l.Set(c.ID, c.Value)
	case OpDeleted:
		return l.Delete(c.ID)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownOp, c.Op)
	}
}

// Bind applies every change received on changes to l until changes is
// closed or ctx ends. A change that fails is logged and skipped. Bind
// returns nil when changes is closed and ctx.Err() otherwise.
func Bind(ctx context.Context, l *group.List, changes <-chan Change, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bind", "list", l.Name())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if err := Apply(l, c); err != nil {
				logger.Warn("change skipped", "op", c.Op, "id", c.ID, "error", err)
				continue
			}
			logger.Debug("change applied", "op", c.Op, "id", c.ID)
		}
	}
}

// Feed fans changes out to every subscriber. It is safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	subs   []chan Change
	buffer int
	closed bool
}

// NewFeed creates a feed whose subscriber channels hold buffer changes.
func NewFeed(buffer int) *Feed {
	if buffer < 0 {
		buffer = 0
	}
	return &Feed{buffer: buffer}
}

// Subscribe returns a channel receiving every change published from now
// on. The channel is closed by Close.
func (f *Feed) Subscribe() <-chan Change {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Change, f.buffer)
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, ch)
	return ch
}

// Publish delivers c to every subscriber, waiting for buffer space. It
// returns ctx.Err() if ctx ends first, in which case some subscribers may
// have received c.
func (f *Feed) Publish(ctx context.Context, c Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrFeedClosed
	}
	for _, ch := range f.subs {
		select {
		case ch <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes every subscriber channel. Later Publish calls return
// ErrFeedClosed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}
