package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrixx/pkg/logger"
	"chatrixx/pkg/telemetry"
)

// Cache is a best-effort redis-backed cache-aside layer. It is never the
// source of truth: every failure degrades to a miss or a no-op and is
// logged, never surfaced to the primary operation. A nil client disables
// caching entirely, which tests and cache-less deployments rely on.
type Cache struct {
	client *redis.Client
}

// New connects to redis at addr. Failure to reach redis is not fatal: the
// returned cache is disabled and every operation degrades gracefully.
func New(ctx context.Context, addr string) *Cache {
	if addr == "" {
		logger.Info("cache_disabled")
		return &Cache{}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("cache_unavailable", "addr", addr, "error", err)
		_ = client.Close()
		return &Cache{}
	}
	logger.Info("cache_connected", "addr", addr)
	return &Cache{client: client}
}

// Disabled builds a cache that never stores anything.
func Disabled() *Cache { return &Cache{} }

// Close releases the redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get unmarshals the cached value for key into out and reports whether it
// was present.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("cache_get_failed", "key", key, "error", err)
		}
		telemetry.CacheMisses.Inc()
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn("cache_decode_failed", "key", key, "error", err)
		telemetry.CacheMisses.Inc()
		return false
	}
	telemetry.CacheHits.Inc()
	return true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("cache_encode_failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warn("cache_set_failed", "key", key, "error", err)
	}
}

// Delete removes one key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("cache_delete_failed", "key", key, "error", err)
	}
}

// Increment adds by to a counter, setting the TTL when the key is new.
// Returns -1 when the cache is unavailable or the operation fails.
func (c *Cache) Increment(ctx context.Context, key string, by int64, ttl time.Duration) int64 {
	if c.client == nil {
		return -1
	}
	v, err := c.client.IncrBy(ctx, key, by).Result()
	if err != nil {
		logger.Warn("cache_increment_failed", "key", key, "error", err)
		return -1
	}
	if v == by && ttl > 0 {
		c.client.Expire(ctx, key, ttl)
	}
	return v
}

// GetOrSet reads key into out, computing and caching the value on a miss.
// out receives the JSON round-trip of the fetched value, the same shape a
// later cache hit would produce.
func (c *Cache) GetOrSet(ctx context.Context, key string, out any, ttl time.Duration, fetch func() (any, error)) error {
	if c.Get(ctx, key, out) {
		return nil
	}
	v, err := fetch()
	if err != nil {
		return err
	}
	c.Set(ctx, key, v, ttl)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// DeletePattern removes every key matching the glob pattern via SCAN so
// large keyspaces are not blocked. Returns the number of keys removed.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	if c.client == nil {
		return 0
	}
	deleted := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("cache_delete_failed", "key", iter.Val(), "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		logger.Warn("cache_scan_failed", "pattern", pattern, "error", err)
	}
	return deleted
}
