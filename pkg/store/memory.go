package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory SnapshotStore.
// It keeps snapshots for the life of the process only.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Save stores a copy of s.
func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.snapshots[s.Name] = cloneSnapshot(s)
	return nil
}

// Load returns a copy of the snapshot saved under name.
func (m *MemoryStore) Load(_ context.Context, name string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	s, ok := m.snapshots[name]
	if !ok {
		return nil, nil
	}
	return cloneSnapshot(s), nil
}

// Delete removes the snapshot saved under name.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.snapshots, name)
	return nil
}

// Close drops every snapshot.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.snapshots = nil
	return nil
}

// Count returns the number of stored snapshots.
// This is for monitoring/testing purposes.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
