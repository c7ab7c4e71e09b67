package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/cache"
	"github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/repository"
	"github.com/sifan077/SpeedDial/internal/app/validator"
	infraPrometheus "github.com/sifan077/SpeedDial/internal/infra/prometheus"
	"go.uber.org/zap"
)

// EntryService owns the speed dial entries and keeps the cache consistent with them.
type EntryService interface {
	// GetByNumber resolves an active entry, reading through the cache.
	GetByNumber(ctx context.Context, number string) (*model.Entry, error)
	// FindByNumber returns the entry for number whatever its state, bypassing the cache.
	FindByNumber(ctx context.Context, number string) (*model.Entry, error)
	GetByID(ctx context.Context, id int64) (*model.Entry, error)
	SearchByPrefix(ctx context.Context, prefix string, limit int) ([]model.Suggestion, error)
	Create(ctx context.Context, input EntryInput) (*model.Entry, error)
	Update(ctx context.Context, id int64, patch EntryPatch) (*model.Entry, error)
	Delete(ctx context.Context, id int64) error
	Toggle(ctx context.Context, id int64, active bool) (*model.Entry, error)
	NumberExists(ctx context.Context, number string, excludeID int64) (bool, error)
	List(ctx context.Context, q repository.ListQuery) ([]model.Entry, int64, error)
	ExportAll(ctx context.Context) ([]model.ExportRow, error)
	Count(ctx context.Context, active *bool) (int64, error)
	BulkDelete(ctx context.Context, ids []int64) (int, error)
	BulkToggle(ctx context.Context, ids []int64, active bool) (int, error)
	// WarmFilter loads every assigned number into the negative filter, if one is configured.
	WarmFilter(ctx context.Context) error
}

// EntryInput captures the fields of a new entry. A nil IsActive means active.
type EntryInput struct {
	Number   string
	Title    string
	URL      string
	Note     string
	IsActive *bool
}

// EntryPatch captures the fields to change on an existing entry.
type EntryPatch struct {
	Number   *string
	Title    *string
	URL      *string
	Note     *string
	IsActive *bool
}

func (p EntryPatch) IsEmpty() bool {
	return p.Number == nil && p.Title == nil && p.URL == nil && p.Note == nil && p.IsActive == nil
}

// EntryDeps wires an EntryService. Cache, Filter and Metrics are optional.
type EntryDeps struct {
	Logger  *zap.Logger
	Repo    repository.EntryRepository
	Cache   cache.EntryCache
	Filter  *cache.NumberFilter
	Metrics *infraPrometheus.Metrics
	Config  config.SpeedDialConfig
}

type entryService struct {
	logger    *zap.Logger
	repo      repository.EntryRepository
	cache     cache.EntryCache
	filter    *cache.NumberFilter
	metrics   *infraPrometheus.Metrics
	validator *validator.Validator
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewEntryService returns an EntryService backed by deps.Repo.
func NewEntryService(deps EntryDeps) EntryService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config.WithDefaults()

	return &entryService{
		logger:    logger,
		repo:      deps.Repo,
		cache:     deps.Cache,
		filter:    deps.Filter,
		metrics:   deps.Metrics,
		validator: validator.New(cfg.MaxDigits),
		cacheTTL:  cfg.CacheTTL,
		now:       time.Now,
	}
}

func (s *entryService) GetByNumber(ctx context.Context, raw string) (*model.Entry, error) {
	number := validator.NormalizeNumber(raw)
	if number == "" {
		return nil, ErrEntryNotFound
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, number)
		if err != nil {
			s.logger.Warn("entry cache read failed", zap.String("number", number), zap.Error(err))
		} else if cached != nil {
			s.metrics.ObserveCache(true)
			return cached, nil
		}
		s.metrics.ObserveCache(false)
	}

	if s.filter != nil && !s.filter.MayContain(number) {
		return nil, ErrEntryNotFound
	}

	entry, err := s.repo.GetByNumber(ctx, number, true)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry %s: %w", number, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, number, entry, s.cacheTTL); err != nil {
			s.logger.Warn("entry cache write failed", zap.String("number", number), zap.Error(err))
		}
	}
	return entry, nil
}

func (s *entryService) FindByNumber(ctx context.Context, raw string) (*model.Entry, error) {
	number := validator.NormalizeNumber(raw)
	if number == "" {
		return nil, ErrEntryNotFound
	}
	entry, err := s.repo.GetByNumber(ctx, number, false)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("find entry %s: %w", number, err)
	}
	return entry, nil
}

func (s *entryService) GetByID(ctx context.Context, id int64) (*model.Entry, error) {
	if id <= 0 {
		return nil, ErrEntryNotFound
	}
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return entry, nil
}

func (s *entryService) SearchByPrefix(ctx context.Context, raw string, limit int) ([]model.Suggestion, error) {
	prefix := validator.NormalizeNumber(raw)
	if prefix == "" {
		return []model.Suggestion{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	result, err := s.repo.SearchPrefix(ctx, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("search prefix %s: %w", prefix, err)
	}
	if result == nil {
		result = []model.Suggestion{}
	}
	return result, nil
}

func (s *entryService) Create(ctx context.Context, input EntryInput) (*model.Entry, error) {
	entry := &model.Entry{
		Number:   validator.NormalizeNumber(input.Number),
		Title:    validator.SanitizeTitle(input.Title),
		URL:      validator.NormalizeURL(input.URL),
		Note:     validator.SanitizeNote(input.Note),
		IsActive: input.IsActive == nil || *input.IsActive,
	}

	if err := s.validateNumber(entry.Number); err != nil {
		return nil, err
	}
	if err := validateTitle(entry.Title); err != nil {
		return nil, err
	}
	if err := validateURL(entry.URL); err != nil {
		return nil, err
	}

	exists, err := s.repo.NumberExists(ctx, entry.Number, 0)
	if err != nil {
		return nil, fmt.Errorf("check number %s: %w", entry.Number, err)
	}
	if exists {
		return nil, conflict(entry.Number)
	}

	now := s.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := s.repo.Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateNumber) {
			return nil, conflict(entry.Number)
		}
		return nil, fmt.Errorf("create entry: %w", err)
	}

	s.invalidate(ctx, entry.Number)
	if s.filter != nil {
		s.filter.Add(entry.Number)
	}
	return entry, nil
}

func (s *entryService) Update(ctx context.Context, id int64, patch EntryPatch) (*model.Entry, error) {
	if patch.IsEmpty() {
		return nil, ErrNoChanges
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{}, 6)
	number := current.Number

	if patch.Number != nil {
		number = validator.NormalizeNumber(*patch.Number)
		if err := s.validateNumber(number); err != nil {
			return nil, err
		}
		if number != current.Number {
			exists, err := s.repo.NumberExists(ctx, number, id)
			if err != nil {
				return nil, fmt.Errorf("check number %s: %w", number, err)
			}
			if exists {
				return nil, conflict(number)
			}
		}
		fields["number"] = number
	}
	if patch.Title != nil {
		title := validator.SanitizeTitle(*patch.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		fields["title"] = title
	}
	if patch.URL != nil {
		u := validator.NormalizeURL(*patch.URL)
		if err := validateURL(u); err != nil {
			return nil, err
		}
		fields["url"] = u
	}
	if patch.Note != nil {
		fields["note"] = validator.SanitizeNote(*patch.Note)
	}
	if patch.IsActive != nil {
		fields["is_active"] = *patch.IsActive
	}
	fields["updated_at"] = s.now()

	if err := s.repo.Update(ctx, id, fields); err != nil {
		if errors.Is(err, repository.ErrDuplicateNumber) {
			return nil, conflict(number)
		}
		return nil, fmt.Errorf("update entry %d: %w", id, err)
	}

	// Both keys go: the old number may no longer resolve and the new one may be stale.
	s.invalidate(ctx, current.Number, number)
	if s.filter != nil {
		s.filter.Add(number)
	}

	return s.GetByID(ctx, id)
}

func (s *entryService) Delete(ctx context.Context, id int64) error {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("delete entry %d: %w", id, err)
	}

	s.invalidate(ctx, current.Number)
	return nil
}

func (s *entryService) Toggle(ctx context.Context, id int64, active bool) (*model.Entry, error) {
	return s.Update(ctx, id, EntryPatch{IsActive: &active})
}

func (s *entryService) NumberExists(ctx context.Context, raw string, excludeID int64) (bool, error) {
	number := validator.NormalizeNumber(raw)
	if number == "" {
		return false, nil
	}
	exists, err := s.repo.NumberExists(ctx, number, excludeID)
	if err != nil {
		return false, fmt.Errorf("check number %s: %w", number, err)
	}
	return exists, nil
}

func (s *entryService) List(ctx context.Context, q repository.ListQuery) ([]model.Entry, int64, error) {
	entries, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	return entries, total, nil
}

func (s *entryService) ExportAll(ctx context.Context) ([]model.ExportRow, error) {
	rows, err := s.repo.ExportAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("export entries: %w", err)
	}
	return rows, nil
}

func (s *entryService) Count(ctx context.Context, active *bool) (int64, error) {
	n, err := s.repo.Count(ctx, active)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// BulkDelete removes each id in turn. Unknown ids are skipped; storage
// failures are collected and returned alongside the number removed.
func (s *entryService) BulkDelete(ctx context.Context, ids []int64) (int, error) {
	return s.bulk(ctx, ids, func(id int64) error {
		return s.Delete(ctx, id)
	})
}

func (s *entryService) BulkToggle(ctx context.Context, ids []int64, active bool) (int, error) {
	return s.bulk(ctx, ids, func(id int64) error {
		_, err := s.Toggle(ctx, id, active)
		return err
	})
}

func (s *entryService) bulk(ctx context.Context, ids []int64, apply func(id int64) error) (int, error) {
	var (
		done int
		errs []error
		seen = make(map[int64]struct{}, len(ids))
	)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := apply(id)
		switch {
		case err == nil:
			done++
		case errors.Is(err, ErrEntryNotFound):
			s.logger.Debug("bulk action skipped unknown entry", zap.Int64("id", id))
		default:
			errs = append(errs, err)
		}
	}
	return done, errors.Join(errs...)
}

func (s *entryService) WarmFilter(ctx context.Context) error {
	if s.filter == nil {
		return nil
	}
	numbers, err := s.repo.Numbers(ctx)
	if err != nil {
		return fmt.Errorf("warm number filter: %w", err)
	}
	s.filter.Reset(numbers)
	s.logger.Info("number filter warmed", zap.Int("numbers", len(numbers)))
	return nil
}

func (s *entryService) invalidate(ctx context.Context, numbers ...string) {
	if s.cache == nil {
		return
	}

	keys := make([]string, 0, len(numbers))
	seen := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		keys = append(keys, n)
	}

	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("entry cache invalidation failed", zap.Strings("numbers", keys), zap.Error(err))
		return
	}
	s.metrics.ObserveInvalidation(len(keys))
}

func (s *entryService) validateNumber(number string) error {
	if !s.validator.IsValidNumber(number) {
		return invalid("number", fmt.Sprintf("number must be 1 to %d digits", s.validator.MaxDigits()))
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return invalid("title", "title is required")
	}
	if validator.TitleTooLong(title) {
		return invalid("title", fmt.Sprintf("title must be at most %d characters", validator.MaxTitleLength))
	}
	return nil
}

func validateURL(u string) error {
	if u == "" {
		return invalid("url", "url is required")
	}
	if !validator.IsValidURL(u) {
		return invalid("url", "url must be an absolute http or https address")
	}
	return nil
}
