package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/store"
)

// exerciseStore runs the behavior every SnapshotStore shares.
func exerciseStore(t *testing.T, s store.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx, "todo")
	if err != nil || got != nil {
		t.Fatalf("Load(missing) = %v, %v; want nil, nil", got, err)
	}

	saved := &store.Snapshot{
		Name:    "todo",
		Items:   []group.ListItem{{ID: "a", Value: "x"}, {ID: "b", Value: "y"}},
		SavedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := s.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err = s.Load(ctx, "todo")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	if err := s.Delete(ctx, "todo"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "todo"); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
	if got, _ := s.Load(ctx, "todo"); got != nil {
		t.Errorf("Load() after Delete = %v, want nil", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Save(ctx, saved); !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("Save() after Close error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.Load(ctx, "todo"); !errors.Is(err, store.ErrStoreClosed) {
		t.Errorf("Load() after Close error = %v, want ErrStoreClosed", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemoryStore())
}

func TestMemoryStoreCopiesItems(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	snap := &store.Snapshot{Name: "l", Items: []group.ListItem{{ID: "a", Value: 1}}}
	if err := m.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}
	snap.Items[0].ID = "mutated"

	got, _ := m.Load(ctx, "l")
	if got.Items[0].ID != "a" {
		t.Errorf("stored item id = %q, want a", got.Items[0].ID)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestS3Store(t *testing.T) {
	exerciseStore(t, store.NewS3Store(newFakeS3(), "bucket", "snapshots/"))
}

func TestS3StoreLayout(t *testing.T) {
	client := newFakeS3()
	s := store.NewS3Store(client, "bucket", "snapshots/")
	if got := s.Key("todo"); got != "snapshots/todo.json" {
		t.Errorf("Key() = %q, want snapshots/todo.json", got)
	}

	snap := &store.Snapshot{Name: "todo", Items: []group.ListItem{{ID: "a", Value: 1}}}
	if err := s.Save(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"bucket/snapshots/todo.json"}, client.keys()); diff != "" {
		t.Errorf("object keys mismatch (-want +got):\n%s", diff)
	}
	if got := client.meta["bucket/snapshots/todo.json"]["list-name"]; got != "todo" {
		t.Errorf("list-name metadata = %q, want todo", got)
	}

	got, err := s.Load(context.Background(), "todo")
	if err != nil {
		t.Fatal(err)
	}
	if got.Items[0].Value != json.Number("1") {
		t.Errorf("loaded value = %#v, want json.Number(1)", got.Items[0].Value)
	}
}

func TestS3StoreSaveError(t *testing.T) {
	client := newFakeS3()
	client.putErr = errBackend
	s := store.NewS3Store(client, "bucket", "")
	err := s.Save(context.Background(), &store.Snapshot{Name: "x"})
	if !errors.Is(err, errBackend) {
		t.Errorf("Save() error = %v, want wrapped backend error", err)
	}
}

func TestRedisStore(t *testing.T) {
	exerciseStore(t, store.NewRedisStore(newFakeRedis()))
}

func TestRedisStoreOptions(t *testing.T) {
	client := newFakeRedis()
	s := store.NewRedisStore(client, store.WithRedisPrefix("app:"), store.WithRedisTTL(time.Hour))
	if err := s.Save(context.Background(), &store.Snapshot{Name: "todo"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := client.data["app:todo"]; !ok {
		t.Errorf("keys = %v, want app:todo", client.data)
	}
	if client.ttls["app:todo"] != time.Hour {
		t.Errorf("ttl = %v, want 1h", client.ttls["app:todo"])
	}
	if err := s.Close(); err != nil || !client.closed {
		t.Errorf("Close() = %v, client closed = %v", err, client.closed)
	}
}
