// Package devstate reconciles raw device status observations against the
// durable device state store through a short-TTL cache tier.
package devstate

import (
    "context"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// StatusCache is the fast tier holding the last raw status per device key.
// Entries expire after the configured TTL; a miss means the key is cold.
type StatusCache interface {
    Get(ctx context.Context, key string) (string, bool, error)
    Set(ctx context.Context, key, raw string, ttl time.Duration) error
}

// MemoryCache is a TTL map used for dev and tests.
type MemoryCache struct {
    mu      sync.Mutex
    entries map[string]memEntry
    now     func() time.Time
}

type memEntry struct {
    raw     string
    expires time.Time
}

func NewMemoryCache() *MemoryCache {
    return &MemoryCache{entries: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
    c.mu.Lock(); defer c.mu.Unlock()
    e, ok := c.entries[key]
    if !ok || c.now().After(e.expires) {
        delete(c.entries, key)
        return "", false, nil
    }
    return e.raw, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, raw string, ttl time.Duration) error {
    c.mu.Lock(); defer c.mu.Unlock()
    c.entries[key] = memEntry{raw: raw, expires: c.now().Add(ttl)}
    return nil
}

// RedisCache backs the status cache with Redis so multiple processes share
// the same consistency window.
type RedisCache struct {
    rdb    *redis.Client
    prefix string
}

func NewRedisCache(url string) (*RedisCache, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisCache{rdb: redis.NewClient(opt), prefix: "devstatus:"}, nil
}

func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
    return &RedisCache{rdb: rdb, prefix: "devstatus:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
    v, err := c.rdb.Get(ctx, c.prefix+key).Result()
    if err == redis.Nil { return "", false, nil }
    if err != nil { return "", false, err }
    return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, raw string, ttl time.Duration) error {
    return c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err()
}
