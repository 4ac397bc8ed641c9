package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vango-dev/socksync/pkg/group"
)

// Snapshot is the saved contents of one list.
type Snapshot struct {
	Name    string           `json:"name"`
	Items   []group.ListItem `json:"items"`
	SavedAt time.Time        `json:"saved_at"`
}

// SnapshotStore persists list snapshots by list name.
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// Save stores s under s.Name, replacing any previous snapshot.
	Save(ctx context.Context, s *Snapshot) error

	// Load returns the snapshot saved under name.
	// Returns (nil, nil) if there is none.
	Load(ctx context.Context, name string) (*Snapshot, error)

	// Delete removes the snapshot saved under name.
	// Deleting a missing snapshot is not an error.
	Delete(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// encodeSnapshot is the wire form shared by the remote backends.
func encodeSnapshot(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("store: encode snapshot %s: %w", s.Name, err)
	}
	return data, nil
}

// decodeSnapshot keeps numbers as json.Number, the same as inbound
// protocol messages.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return &s, nil
}

// cloneSnapshot copies s and its item slice. Item values are shared.
func cloneSnapshot(s *Snapshot) *Snapshot {
	c := *s
	c.Items = append([]group.ListItem(nil), s.Items...)
	return &c
}
