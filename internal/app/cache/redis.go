package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/SpeedDial/internal/app/model"
)

type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache namespaces every key with prefix, e.g. "speeddial:number_411".
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(number string) string {
	return c.prefix + Key(number)
}

func (c *RedisCache) Get(ctx context.Context, number string) (*model.Entry, error) {
	data, err := c.client.Get(ctx, c.key(number)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: get %s: %w", number, err)
	}

	var entry model.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt payload is dropped so the next read refills it.
		_ = c.client.Del(ctx, c.key(number)).Err()
		return nil, fmt.Errorf("cache: decode %s: %w", number, err)
	}
	return &entry, nil
}

func (c *RedisCache) Set(ctx context.Context, number string, entry *model.Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", number, err)
	}
	if err := c.client.Set(ctx, c.key(number), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", number, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, numbers ...string) error {
	if len(numbers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(numbers))
	for _, n := range numbers {
		keys = append(keys, c.key(n))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}
