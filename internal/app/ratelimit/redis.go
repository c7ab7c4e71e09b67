package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters across instances via INCR with a window-long TTL.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
}

func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg.withDefaults()}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	fullKey := l.cfg.KeyPrefix + ":" + key
	now := time.Now()

	count, err := l.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: l.cfg.Max}, fmt.Errorf("ratelimit: incr %s: %w", fullKey, err)
	}

	// The first hit opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, fullKey, l.cfg.Window).Err(); err != nil {
			return Decision{Allowed: true, Limit: l.cfg.Max}, fmt.Errorf("ratelimit: expire %s: %w", fullKey, err)
		}
		return decide(l.cfg, count, now.Add(l.cfg.Window)), nil
	}

	resetAt := now.Add(l.cfg.Window)
	if ttl, err := l.client.TTL(ctx, fullKey).Result(); err == nil {
		if ttl > 0 {
			resetAt = now.Add(ttl)
		} else if ttl == -1 {
			// A lost EXPIRE would otherwise lock the key forever.
			_ = l.client.Expire(ctx, fullKey, l.cfg.Window).Err()
		}
	}
	return decide(l.cfg, count, resetAt), nil
}
