package repository

import (
	"context"
	"time"

	"github.com/sifan077/SpeedDial/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LookupEventRepository persists lookup events consumed from the stream.
type LookupEventRepository interface {
	Create(ctx context.Context, event *model.LookupEvent) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	CountByType(ctx context.Context, eventType model.LookupEventType) (int64, error)
}

type lookupEventRepository struct {
	db *gorm.DB
}

// NewLookupEventRepository returns a GORM-backed LookupEventRepository.
func NewLookupEventRepository(db *gorm.DB) LookupEventRepository {
	return &lookupEventRepository{db: db}
}

// Create ignores redelivered events that were already stored.
func (r *lookupEventRepository) Create(ctx context.Context, event *model.LookupEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event).Error
}

func (r *lookupEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&model.LookupEvent{})
	return result.RowsAffected, result.Error
}

func (r *lookupEventRepository) CountByType(ctx context.Context, eventType model.LookupEventType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LookupEvent{}).Where("type = ?", eventType).Count(&count).Error
	return count, err
}

