package group

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/socksync/pkg/protocol"
)

// Kind is the group type tag carried in the "type" field of every message.
type Kind string

const (
	KindVar      Kind = "var"
	KindList     Kind = "list"
	KindFunction Kind = "function"
)

// String returns the wire form of the kind.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindVar, KindList, KindFunction:
		return true
	}
	return false
}

// Connection is one subscriber as seen by a group. Implementations are
// provided by the transport; groups key all per-connection state by ID.
//
// Send must not block on network I/O: groups call it while holding their
// own locks.
type Connection interface {
	ID() string
	Send(msg protocol.Message) error
	IsSubscribed(g Group) bool
	SendNameError(groupType Kind, groupName, itemID string)
	SendGeneralError(message string)
}

// Group is a named unit of synchronized state. The set of implementations is
// closed to this package.
type Group interface {
	Name() string
	Kind() Kind
	Subscribable() bool

	// Subscribe adds c to the subscriber set. Adding twice is a no-op.
	Subscribe(c Connection)

	// Unsubscribe removes c. Removing an absent connection is a no-op.
	Unsubscribe(c Connection)

	// Subscribers returns the current number of subscribers.
	Subscribers() int

	// HandleCommand runs one protocol command. origin is nil for
	// server-internal calls. The returned message, if any, is the direct
	// reply to origin.
	HandleCommand(fn string, payload protocol.Message, origin Connection) protocol.Message

	// Describe returns the {type, name} envelope merged into every message
	// the group sends.
	Describe() protocol.Message

	core() *base
}

// Option configures a group. Options that do not apply to a variant are
// ignored by it.
type Option func(*options)

type options struct {
	subscribable  bool
	logger        *slog.Logger
	callTimeout   time.Duration
	maxConcurrent int64
	peerSetAll    bool
	newID         func() string
}

func defaultOptions() *options {
	return &options{
		subscribable: true,
		callTimeout:  DefaultCallTimeout,
		newID:        uuid.NewString,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSubscribable controls whether connections may subscribe to the group.
// Default: true.
func WithSubscribable(subscribable bool) Option {
	return func(o *options) {
		o.subscribable = subscribable
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCallTimeout bounds how long a function call may take. For
// RemoteFunction it is the wait for a return; for LocalFunction it is the
// deadline of the callable's context. Zero disables the bound.
// Default: DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// WithMaxConcurrent bounds concurrent LocalFunction invocations. Zero means
// unbounded.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = int64(n)
	}
}

// WithPeerSetAll allows subscribers to replace a List wholesale with
// set_all. By default only server code may.
func WithPeerSetAll(allow bool) Option {
	return func(o *options) {
		o.peerSetAll = allow
	}
}

// WithIDGenerator replaces the generator used for call ids and list item
// ids. Default: uuid.NewString.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// base carries identity and subscriber bookkeeping shared by all variants.
type base struct {
	name         string
	kind         Kind
	subscribable bool
	logger       *slog.Logger

	subMu       sync.RWMutex
	subscribers map[string]Connection
}

func newBase(name string, kind Kind, o *options) base {
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		name:         name,
		kind:         kind,
		subscribable: o.subscribable,
		logger:       logger.With("component", "group", "group", name, "kind", string(kind)),
		subscribers:  make(map[string]Connection),
	}
}

func (b *base) core() *base {
	return b
}

// Name returns the group name.
func (b *base) Name() string {
	return b.name
}

// Kind returns the group kind.
func (b *base) Kind() Kind {
	return b.kind
}

// Subscribable reports whether connections may subscribe.
func (b *base) Subscribable() bool {
	return b.subscribable
}

// Subscribe adds c to the subscriber set.
func (b *base) Subscribe(c Connection) {
	b.addSubscriber(c)
}

// Unsubscribe removes c from the subscriber set.
func (b *base) Unsubscribe(c Connection) {
	b.removeSubscriber(c)
}

// Subscribers returns the number of subscribers.
func (b *base) Subscribers() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers)
}

// Describe returns the {type, name} envelope.
func (b *base) Describe() protocol.Message {
	return protocol.Message{
		protocol.FieldType: string(b.kind),
		protocol.FieldName: b.name,
	}
}

// message returns a new message carrying the envelope and fn.
func (b *base) message(fn string) protocol.Message {
	return protocol.New(string(b.kind), b.name, fn)
}

// addSubscriber reports whether c was newly added.
func (b *base) addSubscriber(c Connection) bool {
	if c == nil {
		return false
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if _, ok := b.subscribers[c.ID()]; ok {
		return false
	}
	b.subscribers[c.ID()] = c
	b.logger.Debug("subscribed", "conn_id", c.ID(), "subscribers", len(b.subscribers))
	return true
}

// removeSubscriber reports whether c was present.
func (b *base) removeSubscriber(c Connection) bool {
	if c == nil {
		return false
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if _, ok := b.subscribers[c.ID()]; !ok {
		return false
	}
	delete(b.subscribers, c.ID())
	b.logger.Debug("unsubscribed", "conn_id", c.ID(), "subscribers", len(b.subscribers))
	return true
}

func (b *base) hasSubscriber(c Connection) bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	_, ok := b.subscribers[c.ID()]
	return ok
}

// snapshot returns the current subscribers.
func (b *base) snapshot() []Connection {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	out := make([]Connection, 0, len(b.subscribers))
	for _, c := range b.subscribers {
		out = append(out, c)
	}
	return out
}

// broadcast sends msg to every subscriber except excluding. The subscriber
// set is copied first so no lock is held while sending.
func (b *base) broadcast(msg protocol.Message, excluding Connection) {
	for _, c := range b.snapshot() {
		if excluding != nil && c.ID() == excluding.ID() {
			continue
		}
		b.send(c, msg)
	}
}

func (b *base) send(c Connection, msg protocol.Message) {
	if err := c.Send(msg); err != nil {
		b.logger.Debug("send failed", "conn_id", c.ID(), "func", msg.Func(), "error", err)
	}
}

// allowed reports whether a command from origin should be processed.
// Commands from connections that are not subscribed are dropped silently.
func (b *base) allowed(self Group, fn string, origin Connection) bool {
	if origin == nil || origin.IsSubscribed(self) {
		return true
	}
	b.logger.Debug("dropped command from unsubscribed connection", "conn_id", origin.ID(), "func", fn)
	return false
}

// reportMissing reports a missing required field to origin. Server-internal
// calls are not reported.
func (b *base) reportMissing(origin Connection, fn, field string) {
	if origin == nil {
		return
	}
	origin.SendGeneralError(fn + " on " + b.name + ": missing " + field)
}

// reportUnsupported reports an unknown command to origin.
func (b *base) reportUnsupported(origin Connection, fn string) {
	if origin == nil {
		return
	}
	origin.SendGeneralError("unsupported command " + fn + " for " + string(b.kind) + " " + b.name)
}

// itemID extracts an id field. Integral numbers are accepted and converted
// to their decimal form.
func itemID(payload protocol.Message) (string, bool) {
	v := payload[protocol.FieldID]
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	if n, ok := protocol.ToInt(v); ok {
		return strconv.Itoa(n), true
	}
	return "", false
}
