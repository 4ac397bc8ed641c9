package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// RedisClient is the subset of Redis operations RedisStore needs.
// A thin adapter over github.com/redis/go-redis/v9 satisfies it.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// ErrRedisNil is what a RedisClient returns from Get for a missing key.
// Adapters should map redis.Nil to it.
var ErrRedisNil = errors.New("redis: nil")

// RedisStore stores each snapshot under one Redis key.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	closed atomic.Bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default: "socksync:snapshot:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithRedisTTL expires snapshots that are not saved again within d.
// Default: 0, no expiry.
func WithRedisTTL(d time.Duration) RedisStoreOption {
	return func(r *RedisStore) {
		r.ttl = d
	}
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(client RedisClient, opts ...RedisStoreOption) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: "socksync:snapshot:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(name string) string {
	return r.prefix + name
}

// Save stores s as JSON.
func (r *RedisStore) Save(ctx context.Context, s *Snapshot) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	data, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(s.Name), data, r.ttl); err != nil {
		return fmt.Errorf("store: redis set %s: %w", s.Name, err)
	}
	return nil
}

// Load returns the snapshot named name, or (nil, nil) if the key is gone.
func (r *RedisStore) Load(ctx context.Context, name string) (*Snapshot, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := r.client.Get(ctx, r.key(name))
	if err != nil {
		if errors.Is(err, ErrRedisNil) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: redis get %s: %w", name, err)
	}
	return decodeSnapshot(data)
}

// Delete removes the key of the snapshot named name.
func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	if err := r.client.Del(ctx, r.key(name)); err != nil {
		return fmt.Errorf("store: redis del %s: %w", name, err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
