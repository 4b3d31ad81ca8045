package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasan-murad02/rag/internal/vector"
)

const defaultTTL = 7 * 24 * time.Hour

// EmbeddingCache keeps vectors as little-endian float32 blobs with a TTL.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEmbeddingCache(client *redis.Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &EmbeddingCache{client: client, ttl: ttl}
}

func (c *EmbeddingCache) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := vector.Decode([]byte(s))
		if err != nil || len(vec) == 0 {
			continue
		}
		out[keys[i]] = vec
	}
	return out, nil
}

func (c *EmbeddingCache) PutMany(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, k, vector.Encode(v), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %d keys: %w", len(entries), err)
	}
	return nil
}

func (c *EmbeddingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
