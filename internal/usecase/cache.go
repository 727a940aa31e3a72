package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	lastCycleKey = "plantcheck:cycle:last"
	lastCycleTTL = 24 * time.Hour
)

// Cache abstracts the Redis operations used by the reconciler to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache stores cycle reports in Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already connected client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value. A missing key yields redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func storeReport(ctx context.Context, cache Cache, report *CycleReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return cache.Set(ctx, lastCycleKey, string(payload), lastCycleTTL)
}

func loadReport(ctx context.Context, cache Cache) (*CycleReport, error) {
	raw, err := cache.Get(ctx, lastCycleKey)
	if err != nil {
		return nil, err
	}
	var report CycleReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, err
	}
	return &report, nil
}
