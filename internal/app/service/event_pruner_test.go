package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/SpeedDial/internal/app/model"
)

type mockEventRepository struct {
	deleteBeforeFn func(ctx context.Context, before time.Time) (int64, error)
}

func (m *mockEventRepository) Create(ctx context.Context, event *model.LookupEvent) error {
	return nil
}

func (m *mockEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.deleteBeforeFn != nil {
		return m.deleteBeforeFn(ctx, before)
	}
	return 0, nil
}

func (m *mockEventRepository) CountByType(ctx context.Context, eventType model.LookupEventType) (int64, error) {
	return 0, nil
}

func TestEventPruner_Prune(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var cutoff time.Time
	repo := &mockEventRepository{deleteBeforeFn: func(ctx context.Context, before time.Time) (int64, error) {
		cutoff = before
		return 4, nil
	}}

	p := NewEventPruner(nil, repo, 24*time.Hour, "")
	p.now = func() time.Time { return now }

	removed, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed = %d", removed)
	}
	if !cutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("cutoff = %s", cutoff)
	}
}

func TestEventPruner_DisabledRetention(t *testing.T) {
	p := NewEventPruner(nil, &mockEventRepository{deleteBeforeFn: func(ctx context.Context, before time.Time) (int64, error) {
		t.Fatal("repository called with retention disabled")
		return 0, nil
	}}, 0, "")

	if n, err := p.Prune(context.Background()); err != nil || n != 0 {
		t.Fatalf("got %d, %v", n, err)
	}
}

func TestEventPruner_PropagatesError(t *testing.T) {
	p := NewEventPruner(nil, &mockEventRepository{deleteBeforeFn: func(ctx context.Context, before time.Time) (int64, error) {
		return 0, errors.New("locked")
	}}, time.Hour, "")

	if _, err := p.Prune(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEventPruner_Schedule(t *testing.T) {
	if err := NewEventPruner(nil, &mockEventRepository{}, time.Hour, "not a schedule").Start(); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}

	p := NewEventPruner(nil, &mockEventRepository{}, time.Hour, "@every 1h")
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Stop()
}
