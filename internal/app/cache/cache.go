// Package cache keeps recently resolved entries out of the database path.
package cache

import (
	"context"
	"time"

	"github.com/sifan077/SpeedDial/internal/app/model"
)

// KeyPrefix is prepended to the normalised number to form a cache key.
const KeyPrefix = "number_"

func Key(number string) string {
	return KeyPrefix + number
}

// EntryCache stores resolved active entries by number. Get returns (nil, nil) on a miss.
type EntryCache interface {
	Get(ctx context.Context, number string) (*model.Entry, error)
	Set(ctx context.Context, number string, entry *model.Entry, ttl time.Duration) error
	Delete(ctx context.Context, numbers ...string) error
}
