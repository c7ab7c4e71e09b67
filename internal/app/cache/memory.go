package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sifan077/SpeedDial/internal/app/model"
)

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is the single-process EntryCache used when redis is disabled.
// Entries are stored encoded so callers never share a mutable value.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, number string) (*model.Entry, error) {
	c.mu.RLock()
	item, ok := c.items[Key(number)]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, ok := c.items[Key(number)]; ok && current.expiresAt.Equal(item.expiresAt) {
			delete(c.items, Key(number))
		}
		c.mu.Unlock()
		return nil, nil
	}

	var entry model.Entry
	if err := json.Unmarshal(item.data, &entry); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", number, err)
	}
	return &entry, nil
}

func (c *MemoryCache) Set(_ context.Context, number string, entry *model.Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", number, err)
	}

	item := memoryItem{data: data}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.items[Key(number)] = item
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, numbers ...string) error {
	c.mu.Lock()
	for _, n := range numbers {
		delete(c.items, Key(n))
	}
	c.mu.Unlock()
	return nil
}

// Len reports how many keys are held, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
