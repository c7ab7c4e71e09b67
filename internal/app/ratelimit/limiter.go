// Package ratelimit implements fixed-window request counters.
package ratelimit

import (
	"context"
	"time"
)

// Config describes one fixed window: at most Max hits per Window per key.
type Config struct {
	Max       int
	Window    time.Duration
	KeyPrefix string
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = 30
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "ratelimit"
	}
	return c
}

// Decision is the outcome of counting one hit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts a hit for key. On error the Decision still allows the request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(cfg Config, count int64, resetAt time.Time) Decision {
	remaining := cfg.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(cfg.Max),
		Limit:     cfg.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
