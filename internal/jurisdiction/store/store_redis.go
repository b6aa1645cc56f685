package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

const defaultRedisPrefix = "demarches:jurisdiction:"

// RedisCache stores jurisdictions as JSON strings; Redis key expiry enforces the TTL.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache builds a cache over any go-redis client (single node, cluster, ring).
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, prefix: defaultRedisPrefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get returns sentinel.ErrNotFound when the key is absent or expired.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.Jurisdiction, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get jurisdiction: %w", err)
	}
	var j models.Jurisdiction
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode cached jurisdiction: %w", err)
	}
	return &j, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, j *models.Jurisdiction, ttl time.Duration) error {
	if j == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode jurisdiction: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set jurisdiction: %w", err)
	}
	return nil
}
