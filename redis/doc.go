// Package redis provides the Redis connection used by the shared response
// cache: a go-redis client with logging, pool settings, lifecycle and
// health checks.
//
// TypedStore stores JSON-encoded values under a key prefix:
//
//	client, _ := redis.New(cfg, log)
//	store := redis.NewTypedStore[cache.Entry](client, "meshgate:cache")
//	store.Save(ctx, key, &entry, ttl)
package redis
