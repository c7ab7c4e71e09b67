package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	refreshTimeout     = time.Minute
	minRefreshInterval = time.Minute
)

// FilterRefresher re-warms the negative number filter so entries created by
// other instances become visible before the filter's max age runs out.
type FilterRefresher struct {
	logger   *zap.Logger
	entries  EntryService
	interval time.Duration
	cron     *cron.Cron
}

// NewFilterRefresher refreshes at half of maxAge, and never more often than once a minute.
func NewFilterRefresher(logger *zap.Logger, entries EntryService, maxAge time.Duration) *FilterRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := maxAge / 2
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	return &FilterRefresher{
		logger:   logger,
		entries:  entries,
		interval: interval,
		cron:     cron.New(),
	}
}

func (r *FilterRefresher) Interval() time.Duration { return r.interval }

func (r *FilterRefresher) Start() error {
	schedule := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return fmt.Errorf("schedule filter refresh %q: %w", schedule, err)
	}
	r.cron.Start()
	r.logger.Info("number filter refresher started", zap.Duration("interval", r.interval))
	return nil
}

func (r *FilterRefresher) Stop() {
	<-r.cron.Stop().Done()
}

// Refresh reloads every assigned number into the filter.
func (r *FilterRefresher) Refresh(ctx context.Context) error {
	return r.entries.WarmFilter(ctx)
}

func (r *FilterRefresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := r.Refresh(ctx); err != nil {
		r.logger.Error("number filter refresh failed; lookups fall back to storage once it expires", zap.Error(err))
	}
}
