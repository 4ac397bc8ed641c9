package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/store"
)

func snapshotterConfig() store.SnapshotterConfig {
	cfg := store.DefaultSnapshotterConfig()
	cfg.Logger = quietLogger()
	return cfg
}

func TestSnapshotterSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()

	todo := newList("todo", group.ListItem{ID: "a", Value: "x"}, group.ListItem{ID: "b", Value: "y"})
	done := newList("done", group.ListItem{ID: "c", Value: "z"})
	s := store.NewSnapshotter(backend, snapshotterConfig(), todo, done)
	if err := s.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if backend.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", backend.Count())
	}

	// A restarted process with empty lists.
	todo2, done2, fresh := newList("todo"), newList("done"), newList("fresh", group.ListItem{ID: "k", Value: 1})
	s2 := store.NewSnapshotter(backend, snapshotterConfig(), todo2, done2, fresh)
	if err := s2.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if diff := cmp.Diff(todo.Items(), todo2.Items()); diff != "" {
		t.Errorf("todo mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(done.Items(), done2.Items()); diff != "" {
		t.Errorf("done mismatch (-want +got):\n%s", diff)
	}
	if fresh.Len() != 1 {
		t.Errorf("list without snapshot changed: Len() = %d, want 1", fresh.Len())
	}
}

func TestSnapshotterJoinsErrors(t *testing.T) {
	s := store.NewSnapshotter(failingStore{}, snapshotterConfig(), newList("a"), newList("b"))

	if err := s.SaveAll(context.Background()); !errors.Is(err, errBackend) {
		t.Errorf("SaveAll() error = %v, want backend error", err)
	}
	if err := s.Restore(context.Background()); !errors.Is(err, errBackend) {
		t.Errorf("Restore() error = %v, want backend error", err)
	}
}

func TestSnapshotterRunSavesOnShutdown(t *testing.T) {
	backend := store.NewMemoryStore()
	l := newList("todo")
	cfg := snapshotterConfig()
	cfg.Interval = 10 * time.Millisecond
	s := store.NewSnapshotter(backend, cfg)
	s.Track(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if _, err := l.Append("a", 1); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, _ := backend.Load(context.Background(), "todo")
		if snap != nil && len(snap.Items) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("periodic save did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := l.Append("b", 2); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	snap, _ := backend.Load(context.Background(), "todo")
	if snap == nil || len(snap.Items) != 2 {
		t.Errorf("final snapshot = %+v, want 2 items", snap)
	}
}
