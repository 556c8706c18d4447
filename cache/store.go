package cache

import (
	"fmt"

	"github.com/kbukum/meshgate/redis"
)

// NewStore builds the configured store. client is required for the redis store.
func NewStore(cfg Config, client *redis.Client) (Store, error) {
	cfg.ApplyDefaults()
	switch cfg.Store {
	case StoreMemory:
		return NewMemoryStore(cfg.MaxEntries), nil
	case StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("response_cache: redis store requires a redis client")
		}
		return NewRedisStore(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("response_cache: unknown store %q", cfg.Store)
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
