package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/socksync/pkg/group"
)

// SnapshotterConfig configures a Snapshotter.
type SnapshotterConfig struct {
	// Interval is the time between periodic saves. Default: 30 seconds.
	Interval time.Duration

	// FinalSaveTimeout bounds the save Run makes when its context ends.
	// Default: 10 seconds.
	FinalSaveTimeout time.Duration

	// Concurrency is the maximum number of lists saved at once.
	// Default: 4.
	Concurrency int

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultSnapshotterConfig returns a SnapshotterConfig with sensible defaults.
func DefaultSnapshotterConfig() SnapshotterConfig {
	return SnapshotterConfig{
		Interval:         30 * time.Second,
		FinalSaveTimeout: 10 * time.Second,
		Concurrency:      4,
	}
}

func (c *SnapshotterConfig) fillDefaults() {
	d := DefaultSnapshotterConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.FinalSaveTimeout <= 0 {
		c.FinalSaveTimeout = d.FinalSaveTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Snapshotter saves tracked lists to a SnapshotStore and restores them.
type Snapshotter struct {
	store  SnapshotStore
	config SnapshotterConfig
	logger *slog.Logger

	mu    sync.RWMutex
	lists map[string]*group.List

	now func() time.Time
}

// NewSnapshotter creates a snapshotter for lists backed by store.
func NewSnapshotter(store SnapshotStore, config SnapshotterConfig, lists ...*group.List) *Snapshotter {
	config.fillDefaults()
	s := &Snapshotter{
		store:  store,
		config: config,
		logger: config.Logger.With("component", "snapshotter"),
		lists:  make(map[string]*group.List),
		now:    time.Now,
	}
	for _, l := range lists {
		s.Track(l)
	}
	return s
}

// Track adds l to the saved lists. Tracking a second list with the same
// name replaces the first.
func (s *Snapshotter) Track(l *group.List) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[l.Name()] = l
}

func (s *Snapshotter) tracked() []*group.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*group.List, 0, len(s.lists))
	for _, l := range s.lists {
		out = append(out, l)
	}
	return out
}

// Restore replaces the contents of every tracked list that has a saved
// snapshot. Lists without one are left as they are. Failures are joined;
// the other lists are still restored.
func (s *Snapshotter) Restore(ctx context.Context) error {
	var errs []error
	restored := 0
	for _, l := range s.tracked() {
		snap, err := s.store.Load(ctx, l.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if snap == nil {
			continue
		}
		if err := l.SetAll(snap.Items); err != nil {
			errs = append(errs, fmt.Errorf("store: restore %s: %w", l.Name(), err))
			continue
		}
		restored++
		s.logger.Info("list restored", "list", l.Name(), "items", len(snap.Items), "saved_at", snap.SavedAt)
	}
	if len(errs) > 0 {
		s.logger.Error("restore failed", "error", errors.Join(errs...))
	}
	s.logger.Debug("restore complete", "restored", restored)
	return errors.Join(errs...)
}

// Save saves one list.
func (s *Snapshotter) Save(ctx context.Context, l *group.List) error {
	return s.store.Save(ctx, &Snapshot{
		Name:    l.Name(),
		Items:   l.Items(),
		SavedAt: s.now().UTC(),
	})
}

// SaveAll saves every tracked list, at most Concurrency at a time. All
// lists are attempted; failures are joined.
func (s *Snapshotter) SaveAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.config.Concurrency)

	for _, l := range s.tracked() {
		l := l // per-iteration copy (go directive is 1.21)
		g.Go(func() error {
			if err := s.Save(ctx, l); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Run saves every Interval until ctx ends, then saves once more within
// FinalSaveTimeout. It returns the final save's error.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SaveAll(ctx); err != nil {
				s.logger.Warn("periodic save failed", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.FinalSaveTimeout)
			defer cancel()
			err := s.SaveAll(final)
			if err != nil {
				s.logger.Error("final save failed", "error", err)
			} else {
				s.logger.Info("lists saved", "count", len(s.tracked()))
			}
			return err
		}
	}
}
