package cache

import (
	"context"
	"time"

	"github.com/kbukum/meshgate/redis"
)

// RedisStore shares cached responses between gateway replicas.
type RedisStore struct {
	store *redis.TypedStore[Entry]
}

// NewRedisStore creates a store writing keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{store: redis.NewTypedStore[Entry](client, prefix)}
}

// Get returns the entry for key or (nil, nil).
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	return s.store.Load(ctx, key)
}

// Set stores e with ttl; Redis expires it.
func (s *RedisStore) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	return s.store.Save(ctx, key, e, ttl)
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
