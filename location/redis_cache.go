package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// negativeMarker is stored for cached misses so they expire like hits.
const negativeMarker = "none"

// RedisCache is a shared TTL cache backed by redis, used when the API runs
// with more than one replica so geocode results are not re-fetched per
// process.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "geocode:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Coordinates, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("location: redis get: %w", err)
	}

	if raw == negativeMarker {
		return nil, true, nil
	}

	var coords Coordinates
	if err := json.Unmarshal([]byte(raw), &coords); err != nil {
		return nil, false, fmt.Errorf("location: decode cached coordinates: %w", err)
	}
	return &coords, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value *Coordinates) error {
	payload := negativeMarker
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("location: encode coordinates: %w", err)
		}
		payload = string(raw)
	}

	if err := c.client.Set(ctx, c.prefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("location: redis set: %w", err)
	}
	return nil
}
