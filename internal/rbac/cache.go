package rbac

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache stores resolved permission sets and the version counters that key them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	// Version returns the counter stored under key, zero when unset.
	Version(ctx context.Context, key string) (int64, error)
	// Incr bumps the counter under key and returns its new value.
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisCache keeps entries and counters in Redis so every instance shares them.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeleteByPrefix removes every key under prefix using SCAN so Redis is never blocked.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.Delete(ctx, batch...)
}

// Version implements Cache.
func (c *RedisCache) Version(ctx context.Context, key string) (int64, error) {
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Incr implements Cache.
func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// MemoryCache keeps permission sets in an in-process expiring LRU. Version
// counters stay in process too unless WithSharedVersions points them at Redis,
// which every instance of a multi-instance deployment must do: a bump is then
// visible to all instances as soon as Incr returns.
type MemoryCache struct {
	entries *lru.LRU[string, []byte]

	mu       sync.Mutex
	versions map[string]int64

	shared *redis.Client
}

// NewMemoryCache builds an in-process cache holding at most size entries for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 4096
	}
	return &MemoryCache{
		entries:  lru.NewLRU[string, []byte](size, nil, ttl),
		versions: make(map[string]int64),
	}
}

// WithSharedVersions reads and bumps version counters in Redis.
func (c *MemoryCache) WithSharedVersions(client *redis.Client) *MemoryCache {
	c.shared = client
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.entries.Get(key)
	return value, ok, nil
}

// Set implements Cache. The LRU applies its own ttl.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.entries.Add(key, value)
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.entries.Remove(key)
	}
	return nil
}

// DeleteByPrefix implements Cache.
func (c *MemoryCache) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
	return nil
}

// Version implements Cache.
func (c *MemoryCache) Version(ctx context.Context, key string) (int64, error) {
	if c.shared != nil {
		ver, err := c.shared.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return ver, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[key], nil
}

// Incr implements Cache.
func (c *MemoryCache) Incr(ctx context.Context, key string) (int64, error) {
	if c.shared != nil {
		return c.shared.Incr(ctx, key).Result()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[key]++
	return c.versions[key], nil
}

// NoopCache never stores anything; every lookup misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopCache) Delete(context.Context, ...string) error                  { return nil }
func (NoopCache) DeleteByPrefix(context.Context, string) error             { return nil }
func (NoopCache) Version(context.Context, string) (int64, error)           { return 0, nil }
func (NoopCache) Incr(context.Context, string) (int64, error)              { return 0, nil }

func versionKey(kind string, id int64) string {
	return "rbac:ver:" + kind + ":" + strconv.FormatInt(id, 10)
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
	_ Cache = NoopCache{}
)
