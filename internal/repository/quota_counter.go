package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryQuotaCounter is the single-process counter. Suitable for one
// instance only; multi-instance deployments must use the Redis counter or
// concurrent pollers will double-spend the budget.
type MemoryQuotaCounter struct {
	mu   sync.Mutex
	used map[string]int64
}

// NewMemoryQuotaCounter creates an in-process day-keyed counter.
func NewMemoryQuotaCounter() *MemoryQuotaCounter {
	return &MemoryQuotaCounter{used: make(map[string]int64)}
}

// Add atomically increments the day's usage and returns the new total.
func (c *MemoryQuotaCounter) Add(_ context.Context, day string, units int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used[day] += units
	c.prune(day)
	return c.used[day], nil
}

// Get returns the day's usage so far.
func (c *MemoryQuotaCounter) Get(_ context.Context, day string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used[day], nil
}

// prune drops stale day keys so the map stays bounded.
func (c *MemoryQuotaCounter) prune(current string) {
	for k := range c.used {
		if k != current {
			delete(c.used, k)
		}
	}
}

// RedisQuotaCounter shares one budget across instances via INCRBY, which is
// the atomic increment-and-check the in-process map cannot provide under
// concurrent invocations.
type RedisQuotaCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisQuotaCounter creates a Redis-backed counter.
func NewRedisQuotaCounter(client *redis.Client, prefix string) *RedisQuotaCounter {
	if prefix == "" {
		prefix = "mirror"
	}
	return &RedisQuotaCounter{client: client, prefix: prefix}
}

func (c *RedisQuotaCounter) key(day string) string {
	return fmt.Sprintf("%s:quota:%s", c.prefix, day)
}

// Add atomically increments the day's usage and returns the new total.
// Keys expire after two days; yesterday's key is kept briefly so callers
// straddling the boundary read a consistent zero, not an error.
func (c *RedisQuotaCounter) Add(ctx context.Context, day string, units int64) (int64, error) {
	key := c.key(day)
	total, err := c.client.IncrBy(ctx, key, units).Result()
	if err != nil {
		return 0, fmt.Errorf("quota incr: %w", err)
	}
	if total == units {
		// first write of the day; best-effort TTL
		_ = c.client.Expire(ctx, key, 48*time.Hour).Err()
	}
	return total, nil
}

// Get returns the day's usage so far; a missing key reads as zero.
func (c *RedisQuotaCounter) Get(ctx context.Context, day string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(day)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("quota get: %w", err)
	}
	return n, nil
}
