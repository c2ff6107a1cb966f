package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "imagery:stats:"
	DefaultTTL    = 5 * time.Minute
)

// RedisStatsCache keeps JSON encoded statistics projections in Redis.
type RedisStatsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatsCache creates a cache over client. Entries expire after ttl.
func NewRedisStatsCache(client *redis.Client, prefix string, ttl time.Duration) *RedisStatsCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStatsCache{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and creates a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get decodes the entry for key into dest. It reports false on a miss.
func (c *RedisStatsCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key.
func (c *RedisStatsCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// Invalidate deletes every entry under the cache prefix.
func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Check pings Redis.
func (c *RedisStatsCache) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
