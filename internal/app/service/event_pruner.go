package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sifan077/SpeedDial/internal/app/repository"
	"go.uber.org/zap"
)

const pruneTimeout = time.Minute

// EventPruner deletes persisted lookup events older than the retention window on a cron schedule.
type EventPruner struct {
	logger    *zap.Logger
	repo      repository.LookupEventRepository
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
}

func NewEventPruner(logger *zap.Logger, repo repository.LookupEventRepository, retention time.Duration, schedule string) *EventPruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &EventPruner{
		logger:    logger,
		repo:      repo,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		now:       time.Now,
	}
}

func (p *EventPruner) Start() error {
	if _, err := p.cron.AddFunc(p.schedule, p.run); err != nil {
		return fmt.Errorf("schedule event pruner %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.logger.Info("lookup event pruner started",
		zap.String("schedule", p.schedule),
		zap.Duration("retention", p.retention),
	)
	return nil
}

// Stop waits for a running prune to finish.
func (p *EventPruner) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("lookup event pruner stopped")
}

// Prune deletes events older than the retention window and reports how many went.
func (p *EventPruner) Prune(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().UTC().Add(-p.retention)
	removed, err := p.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune lookup events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return removed, nil
}

func (p *EventPruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	removed, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error("lookup event prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		p.logger.Info("pruned lookup events", zap.Int64("count", removed))
	}
}
