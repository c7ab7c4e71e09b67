package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sifan077/SpeedDial/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrEntryNotFound signals that no entry matches the id or number.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrDuplicateNumber signals a write that collided with the unique number index.
	ErrDuplicateNumber = errors.New("number already exists")
)

// SortableColumns lists the columns List accepts for ordering.
var SortableColumns = map[string]struct{}{
	"id":         {},
	"number":     {},
	"title":      {},
	"url":        {},
	"is_active":  {},
	"created_at": {},
	"updated_at": {},
}

// FallbackSortColumn orders results, ascending, when OrderBy is not sortable.
const FallbackSortColumn = "number"

type ListQuery struct {
	// Search matches number or title as a substring.
	Search string
	// Active restricts the activation state when set.
	Active *bool
	// OrderBy must be one of SortableColumns; anything else sorts by number ascending.
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// EntryRepository defines the data access contract for speed dial entries.
type EntryRepository interface {
	Create(ctx context.Context, entry *model.Entry) error
	GetByID(ctx context.Context, id int64) (*model.Entry, error)
	GetByNumber(ctx context.Context, number string, activeOnly bool) (*model.Entry, error)
	SearchPrefix(ctx context.Context, prefix string, limit int) ([]model.Suggestion, error)
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
	Delete(ctx context.Context, id int64) error
	NumberExists(ctx context.Context, number string, excludeID int64) (bool, error)
	List(ctx context.Context, q ListQuery) ([]model.Entry, int64, error)
	ExportAll(ctx context.Context) ([]model.ExportRow, error)
	Count(ctx context.Context, active *bool) (int64, error)
	Numbers(ctx context.Context) ([]string, error)
}

type entryRepository struct {
	db *gorm.DB
}

// NewEntryRepository returns a GORM-backed EntryRepository.
func NewEntryRepository(db *gorm.DB) EntryRepository {
	return &entryRepository{db: db}
}

func (r *entryRepository) Create(ctx context.Context, entry *model.Entry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *entryRepository) GetByID(ctx context.Context, id int64) (*model.Entry, error) {
	var entry model.Entry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (r *entryRepository) GetByNumber(ctx context.Context, number string, activeOnly bool) (*model.Entry, error) {
	tx := r.db.WithContext(ctx).Where("number = ?", number)
	if activeOnly {
		tx = tx.Where("is_active = ?", true)
	}

	var entry model.Entry
	if err := tx.First(&entry).Error; err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (r *entryRepository) SearchPrefix(ctx context.Context, prefix string, limit int) ([]model.Suggestion, error) {
	if limit <= 0 {
		limit = 5
	}

	var result []model.Suggestion
	if err := r.db.WithContext(ctx).
		Model(&model.Entry{}).
		Select("number", "title").
		Where("number LIKE ? ESCAPE '!' AND is_active = ?", escapeLike(prefix)+"%", true).
		Order("number ASC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *entryRepository) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Model(&model.Entry{}).
		Where("id = ?", id).
		Updates(fields).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *entryRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Entry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *entryRepository) NumberExists(ctx context.Context, number string, excludeID int64) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&model.Entry{}).Where("number = ?", number)
	if excludeID > 0 {
		tx = tx.Where("id <> ?", excludeID)
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *entryRepository) List(ctx context.Context, q ListQuery) ([]model.Entry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&model.Entry{}).
		Scopes(filter(q)).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, desc := q.OrderBy, q.Desc
	if _, ok := SortableColumns[column]; !ok {
		column, desc = FallbackSortColumn, false
	}

	tx := r.db.WithContext(ctx).
		Model(&model.Entry{}).
		Scopes(filter(q)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	if column != "id" {
		tx = tx.Order("id ASC")
	}
	if q.Limit > 0 {
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		tx = tx.Limit(q.Limit).Offset(offset)
	}

	var result []model.Entry
	if err := tx.Find(&result).Error; err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *entryRepository) ExportAll(ctx context.Context) ([]model.ExportRow, error) {
	var rows []model.ExportRow
	if err := r.db.WithContext(ctx).
		Model(&model.Entry{}).
		Select("number", "title", "url", "note", "is_active").
		Order("number ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *entryRepository) Count(ctx context.Context, active *bool) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&model.Entry{})
	if active != nil {
		tx = tx.Where("is_active = ?", *active)
	}

	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *entryRepository) Numbers(ctx context.Context) ([]string, error) {
	var numbers []string
	if err := r.db.WithContext(ctx).Model(&model.Entry{}).Pluck("number", &numbers).Error; err != nil {
		return nil, err
	}
	return numbers, nil
}

func filter(q ListQuery) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if search := strings.TrimSpace(q.Search); search != "" {
			like := "%" + escapeLike(strings.ToLower(search)) + "%"
			tx = tx.Where("(number LIKE ? ESCAPE '!' OR LOWER(title) LIKE ? ESCAPE '!')", like, like)
		}
		if q.Active != nil {
			tx = tx.Where("is_active = ?", *q.Active)
		}
		return tx
	}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrEntryNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateNumber
	default:
		return err
	}
}
