package cache

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// NumberFilter answers "definitely not assigned" without touching storage.
// Until Reset is called, and again once the last Reset is older than maxAge,
// it admits every number. Numbers written by other processes only reach the
// filter through Reset, so maxAge bounds how long they can be reported absent.
type NumberFilter struct {
	mu       sync.RWMutex
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64
	maxAge   time.Duration
	warmedAt time.Time
	ready    bool
	now      func() time.Time
}

// NewNumberFilter sizes the filter for capacity numbers. maxAge <= 0 trusts a
// warmed filter forever, which is only safe for a single process.
func NewNumberFilter(capacity uint, fpRate float64, maxAge time.Duration) *NumberFilter {
	if capacity == 0 {
		capacity = 10000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &NumberFilter{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Reset rebuilds the filter from the full set of assigned numbers.
func (f *NumberFilter) Reset(numbers []string) {
	capacity := f.capacity
	if n := uint(len(numbers)) * 2; n > capacity {
		capacity = n
	}
	next := bloom.NewWithEstimates(capacity, f.fpRate)
	for _, n := range numbers {
		next.AddString(n)
	}

	f.mu.Lock()
	f.filter = next
	f.capacity = capacity
	f.warmedAt = f.now()
	f.ready = true
	f.mu.Unlock()
}

func (f *NumberFilter) Add(number string) {
	f.mu.Lock()
	f.filter.AddString(number)
	f.mu.Unlock()
}

func (f *NumberFilter) MayContain(number string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.trusted() {
		return true
	}
	return f.filter.TestString(number)
}

// Ready reports whether the filter is warmed and younger than maxAge.
func (f *NumberFilter) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trusted()
}

func (f *NumberFilter) MaxAge() time.Duration { return f.maxAge }

func (f *NumberFilter) trusted() bool {
	if !f.ready {
		return false
	}
	return f.maxAge <= 0 || f.now().Sub(f.warmedAt) <= f.maxAge
}
