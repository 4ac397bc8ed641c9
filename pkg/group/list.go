package group

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// DefaultPageSize is the page size used when NewList is given zero.
const DefaultPageSize = 25

// ListItem is one entry of a List.
type ListItem struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Window is the page a subscriber last requested.
type Window struct {
	Page     int
	PageSize int
}

// Start returns the index of the first item covered by w.
func (w Window) Start() int {
	return w.Page * w.PageSize
}

// Covers reports whether index falls inside w.
func (w Window) Covers(index int) bool {
	start := w.Start()
	return index >= start && index < start+w.PageSize
}

type subscriberWindow struct {
	conn   Connection
	window Window
}

// List is an ordered collection of id-addressed items. Each subscriber sees
// one page at a time and is only notified of changes inside that page.
//
// A single mutex guards items, the id index, the item count and the windows
// for the whole read-modify-notify sequence of every operation.
type List struct {
	base

	mu         sync.Mutex
	items      []ListItem
	index      map[string]int
	count      int
	pageSize   int
	windows    map[string]*subscriberWindow
	peerSetAll bool
	newID      func() string
}

// NewList creates an empty list. pageSize <= 0 selects DefaultPageSize.
func NewList(name string, pageSize int, opts ...Option) *List {
	o := applyOptions(opts)
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &List{
		base:       newBase(name, KindList, o),
		index:      make(map[string]int),
		pageSize:   pageSize,
		windows:    make(map[string]*subscriberWindow),
		peerSetAll: o.peerSetAll,
		newID:      o.newID,
	}
}

// Subscribe adds c with the default window (0, PageSize). Subscribing again
// keeps the existing window.
func (l *List) Subscribe(c Connection) {
	if c == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addSubscriber(c) {
		l.windows[c.ID()] = &subscriberWindow{conn: c, window: Window{Page: 0, PageSize: l.pageSize}}
	}
}

// Unsubscribe removes c and forgets its window.
func (l *List) Unsubscribe(c Connection) {
	if c == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeSubscriber(c)
	delete(l.windows, c.ID())
}

// PageSize returns the maximum page size.
func (l *List) PageSize() int {
	return l.pageSize
}

// Len returns the number of items.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// PageCount returns the number of pages of the given size.
func (l *List) PageCount(size int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return pageCount(len(l.items), size)
}

func pageCount(n, size int) int {
	if size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Window returns the window stored for c.
func (l *List) Window(c Connection) (Window, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sw, ok := l.windows[c.ID()]
	if !ok {
		return Window{}, false
	}
	return sw.window, true
}

// Items returns a copy of all items in order.
func (l *List) Items() []ListItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ListItem, len(l.items))
	copy(out, l.items)
	return out
}

// Get returns the value stored under id.
func (l *List) Get(id string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return l.items[i].Value, true
}

// At returns the item at index.
func (l *List) At(index int) (ListItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return ListItem{}, false
	}
	return l.items[index], true
}

// Insert places value at index under id and notifies the subscribers whose
// window covers index. An empty id is replaced by a generated one, which is
// returned.
func (l *List) Insert(index int, id string, value any) (string, error) {
	if id == "" {
		id = l.newID()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.insertLocked(index, id, value); err != nil {
		return "", err
	}
	l.notifyWindowsLocked(index, l.insertMessage(index, id, value), nil)
	return id, nil
}

// Append adds value at the end of the list.
func (l *List) Append(id string, value any) (string, error) {
	if id == "" {
		id = l.newID()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	index := len(l.items)
	if err := l.insertLocked(index, id, value); err != nil {
		return "", err
	}
	l.notifyWindowsLocked(index, l.insertMessage(index, id, value), nil)
	return id, nil
}

// Set replaces the value stored under id.
func (l *List) Set(id string, value any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return ErrUnknownID
	}
	l.items[i].Value = value
	l.notifyWindowsLocked(i, l.setMessage(i, id, value), nil)
	return nil
}

// SetAt replaces the value at index.
func (l *List) SetAt(index int, value any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return ErrIndexOutOfRange
	}
	l.items[index].Value = value
	id := l.items[index].ID
	l.notifyWindowsLocked(index, l.setMessage(index, id, value), nil)
	return nil
}

// Delete removes the item stored under id.
func (l *List) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return ErrUnknownID
	}
	if err := l.deleteLocked(i); err != nil {
		return err
	}
	l.notifyWindowsLocked(i, l.deleteMessage(i, id), nil)
	return nil
}

// DeleteAt removes the item at index.
func (l *List) DeleteAt(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return ErrIndexOutOfRange
	}
	id := l.items[index].ID
	if err := l.deleteLocked(index); err != nil {
		return err
	}
	l.notifyWindowsLocked(index, l.deleteMessage(index, id), nil)
	return nil
}

// SetAll replaces every item. Items without an id get a generated one; a
// repeated id keeps its first position and takes the last value. Each
// subscriber receives a fresh set_all for its own window.
func (l *List) SetAll(items []ListItem) error {
	normalized := make([]ListItem, len(items))
	for i, it := range items {
		if it.ID == "" {
			it.ID = l.newID()
		}
		normalized[i] = it
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.replaceLocked(normalized); err != nil {
		return err
	}
	for _, sw := range l.windows {
		sw.window = l.clampLocked(sw.window)
		l.send(sw.conn, l.pageMessageLocked(sw.window))
	}
	return nil
}

// HandleCommand implements Group.
func (l *List) HandleCommand(fn string, payload protocol.Message, origin Connection) protocol.Message {
	if !l.allowed(l, fn, origin) {
		return nil
	}

	id, hasID := itemID(payload)

	switch fn {
	case protocol.FuncGet:
		if hasID {
			return l.handleGetItem(id, origin)
		}
		return l.handleGetPage(payload, origin)

	case protocol.FuncSetAll:
		l.handleSetAll(payload, origin)
		return nil

	case protocol.FuncInsert:
		l.handleInsert(payload, id, hasID, origin)
		return nil

	case protocol.FuncSet:
		l.handleSet(payload, id, hasID, origin)
		return nil

	case protocol.FuncDelete:
		l.handleDelete(id, hasID, origin)
		return nil

	default:
		l.reportUnsupported(origin, fn)
		return nil
	}
}

func (l *List) handleGetItem(id string, origin Connection) protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		if origin != nil {
			origin.SendNameError(l.kind, l.name, id)
		}
		return nil
	}
	return l.setMessage(i, id, l.items[i].Value)
}

func (l *List) handleGetPage(payload protocol.Message, origin Connection) protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := Window{Page: 0, PageSize: l.pageSize}
	var sw *subscriberWindow
	if origin != nil {
		sw = l.windows[origin.ID()]
		if sw != nil {
			w = sw.window
		}
	}

	w.PageSize = l.pageSize
	if size, ok := payload.Int(protocol.FieldPageSize); ok && size > 0 {
		w.PageSize = min(size, l.pageSize)
	}
	if page, ok := payload.Int(protocol.FieldPage); ok {
		w.Page = page
	}
	w = l.clampLocked(w)

	if sw != nil {
		sw.window = w
	}
	return l.pageMessageLocked(w)
}

func (l *List) handleSetAll(payload protocol.Message, origin Connection) {
	if origin != nil && !l.peerSetAll {
		origin.SendGeneralError("set_all on " + l.name + ": only the server may replace the list")
		return
	}
	raw, ok := payload.Slice(protocol.FieldItems)
	if !ok {
		l.reportMissing(origin, protocol.FuncSetAll, protocol.FieldItems)
		return
	}
	items := parseItems(raw)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.replaceLocked(items); err != nil {
		return
	}
	if origin != nil {
		if sw := l.windows[origin.ID()]; sw != nil {
			if page, ok := payload.Int(protocol.FieldPage); ok {
				sw.window.Page = page
			}
			sw.window = l.clampLocked(sw.window)
		}
	}
	for id, sw := range l.windows {
		if origin != nil && id == origin.ID() {
			continue
		}
		l.send(sw.conn, payload)
	}
}

func (l *List) handleInsert(payload protocol.Message, id string, hasID bool, origin Connection) {
	index, ok := payload.Int(protocol.FieldIndex)
	if !ok {
		l.reportMissing(origin, protocol.FuncInsert, protocol.FieldIndex)
		return
	}
	value, ok := payload[protocol.FieldValue]
	if !ok {
		l.reportMissing(origin, protocol.FuncInsert, protocol.FieldValue)
		return
	}
	if !hasID {
		id = l.newID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.insertLocked(index, id, value); err != nil {
		if origin != nil {
			origin.SendGeneralError(fmt.Sprintf("insert on %s: %v", l.name, err))
		}
		return
	}
	l.notifyWindowsLocked(index, l.insertMessage(index, id, value), origin)
}

func (l *List) handleSet(payload protocol.Message, id string, hasID bool, origin Connection) {
	if !hasID {
		l.reportMissing(origin, protocol.FuncSet, protocol.FieldID)
		return
	}
	value, ok := payload[protocol.FieldValue]
	if !ok {
		l.reportMissing(origin, protocol.FuncSet, protocol.FieldValue)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		if origin != nil {
			origin.SendNameError(l.kind, l.name, id)
		}
		return
	}
	l.items[i].Value = value
	l.notifyWindowsLocked(i, l.setMessage(i, id, value), origin)
}

func (l *List) handleDelete(id string, hasID bool, origin Connection) {
	if !hasID {
		l.reportMissing(origin, protocol.FuncDelete, protocol.FieldID)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		if origin != nil {
			origin.SendNameError(l.kind, l.name, id)
		}
		return
	}
	if err := l.deleteLocked(i); err != nil {
		return
	}
	l.notifyWindowsLocked(i, l.deleteMessage(i, id), origin)
}

// insertLocked places a new item at index and reindexes the tail.
func (l *List) insertLocked(index int, id string, value any) error {
	if index < 0 || index > len(l.items) {
		return ErrIndexOutOfRange
	}
	if _, dup := l.index[id]; dup {
		return ErrDuplicateID
	}
	return l.commitLocked(func() {
		l.items = slices.Insert(l.items, index, ListItem{ID: id, Value: value})
		l.count++
		l.reindexLocked(index)
	})
}

// deleteLocked removes the item at index and reindexes the tail.
func (l *List) deleteLocked(index int) error {
	return l.commitLocked(func() {
		delete(l.index, l.items[index].ID)
		l.items = slices.Delete(l.items, index, index+1)
		l.count--
		l.reindexLocked(index)
	})
}

// replaceLocked swaps in a new item slice. Duplicate ids keep the first
// position and the last value.
func (l *List) replaceLocked(items []ListItem) error {
	next := make([]ListItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, dup := index[it.ID]; dup {
			next[i].Value = it.Value
			continue
		}
		index[it.ID] = len(next)
		next = append(next, it)
	}
	return l.commitLocked(func() {
		l.items = next
		l.index = index
		l.count = len(next)
	})
}

// commitLocked runs mutate and keeps its result only when the list is
// consistent afterwards. On a violation the previous state is restored.
func (l *List) commitLocked(mutate func()) error {
	items := slices.Clone(l.items)
	index := maps.Clone(l.index)
	count := l.count

	mutate()
	if err := l.checkInvariants(); err != nil {
		l.items, l.index, l.count = items, index, count
		return err
	}
	return nil
}

func (l *List) reindexLocked(from int) {
	for i := from; i < len(l.items); i++ {
		l.index[l.items[i].ID] = i
	}
}

// checkInvariants verifies the item count and the id index. A mismatch is
// a bug in this file; it is logged and returned so the mutation is undone
// and subscribers are not notified.
func (l *List) checkInvariants() error {
	if l.count != len(l.items) || len(l.index) != len(l.items) {
		l.logger.Error("list invariant violated",
			"count", l.count,
			"items", len(l.items),
			"indexed", len(l.index))
		return ErrInvariant
	}
	for i, it := range l.items {
		if got, ok := l.index[it.ID]; !ok || got != i {
			l.logger.Error("list invariant violated",
				"id", it.ID,
				"position", i,
				"indexed_at", got)
			return ErrInvariant
		}
	}
	return nil
}

// clampLocked keeps w inside the current list bounds.
func (l *List) clampLocked(w Window) Window {
	if w.PageSize <= 0 || w.PageSize > l.pageSize {
		w.PageSize = l.pageSize
	}
	last := pageCount(len(l.items), w.PageSize) - 1
	if w.Page > last {
		w.Page = last
	}
	if w.Page < 0 {
		w.Page = 0
	}
	return w
}

// notifyWindowsLocked sends msg to every subscriber whose window covers
// index, except excluding.
func (l *List) notifyWindowsLocked(index int, msg protocol.Message, excluding Connection) {
	for id, sw := range l.windows {
		if excluding != nil && id == excluding.ID() {
			continue
		}
		if sw.window.Covers(index) {
			l.send(sw.conn, msg)
		}
	}
}

func (l *List) pageMessageLocked(w Window) protocol.Message {
	start := min(w.Start(), len(l.items))
	end := min(start+w.PageSize, len(l.items))

	items := make([]any, 0, end-start)
	for _, it := range l.items[start:end] {
		items = append(items, map[string]any{
			protocol.FieldID:    it.ID,
			protocol.FieldValue: it.Value,
		})
	}

	msg := l.message(protocol.FuncSetAll)
	msg[protocol.FieldPage] = w.Page
	msg[protocol.FieldPageSize] = w.PageSize
	msg[protocol.FieldTotalItemCount] = l.count
	msg[protocol.FieldItems] = items
	return msg
}

func (l *List) insertMessage(index int, id string, value any) protocol.Message {
	msg := l.message(protocol.FuncInsert)
	msg[protocol.FieldIndex] = index
	msg[protocol.FieldID] = id
	msg[protocol.FieldValue] = value
	return msg
}

func (l *List) setMessage(index int, id string, value any) protocol.Message {
	msg := l.message(protocol.FuncSet)
	msg[protocol.FieldIndex] = index
	msg[protocol.FieldID] = id
	msg[protocol.FieldValue] = value
	return msg
}

func (l *List) deleteMessage(index int, id string) protocol.Message {
	msg := l.message(protocol.FuncDelete)
	msg[protocol.FieldIndex] = index
	msg[protocol.FieldID] = id
	return msg
}

// parseItems converts a decoded "items" array, dropping entries that lack
// an id or a value.
func parseItems(raw []any) []ListItem {
	items := make([]ListItem, 0, len(raw))
	for _, entry := range raw {
		var m protocol.Message
		switch e := entry.(type) {
		case map[string]any:
			m = e
		case protocol.Message:
			m = e
		default:
			continue
		}
		id, ok := itemID(m)
		if !ok || !m.Has(protocol.FieldValue) {
			continue
		}
		items = append(items, ListItem{ID: id, Value: m[protocol.FieldValue]})
	}
	return items
}
