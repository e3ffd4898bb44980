package pages

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is an optional write-through ContentCache backed by
// github.com/redis/go-redis/v9, the Redis client used elsewhere in the
// example corpus (intelligencedev-manifold) for low-latency lookups. It
// decorates Store.LoadContent so frequently-ref'd pages skip disk reads.
//
// Cache entries expire after ttl; a miss falls through to the on-disk
// record, matching the teacher's own "swap to Qdrant/Pinecone later"
// philosophy of treating a backend as a pluggable accelerator rather than
// the source of truth.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. ttl <= 0 disables expiry.
func NewRedisCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix, ttl: ttl}
}

func (c *RedisCache) key(id string) string { return c.prefix + id }

// Get returns the cached content for id, if present. Redis errors are
// treated as a cache miss — the cache is an accelerator, never the source
// of truth.
func (c *RedisCache) Get(id string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := c.client.Get(ctx, c.key(id)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set writes content to the cache, best-effort.
func (c *RedisCache) Set(id, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.client.Set(ctx, c.key(id), content, c.ttl) //nolint:errcheck
}
