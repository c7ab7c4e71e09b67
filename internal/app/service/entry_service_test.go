package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/cache"
	"github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/repository"
	"github.com/sifan077/SpeedDial/internal/infra/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepository records storage reads so cache behaviour can be observed.
type countingRepository struct {
	repository.EntryRepository
	numberReads int
}

func (r *countingRepository) GetByNumber(ctx context.Context, number string, activeOnly bool) (*model.Entry, error) {
	r.numberReads++
	return r.EntryRepository.GetByNumber(ctx, number, activeOnly)
}

func newTestRepository(t *testing.T) *countingRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(context.Background(), db, &model.Entry{}))
	t.Cleanup(func() { _ = database.Close(db) })
	return &countingRepository{EntryRepository: repository.NewEntryRepository(db)}
}

func newTestEntryService(t *testing.T) (EntryService, *countingRepository, *cache.MemoryCache) {
	t.Helper()
	repo := newTestRepository(t)
	mem := cache.NewMemoryCache()
	svc := NewEntryService(EntryDeps{Repo: repo, Cache: mem})
	return svc, repo, mem
}

func mustCreate(t *testing.T, svc EntryService, number, title, url string) *model.Entry {
	t.Helper()
	e, err := svc.Create(context.Background(), EntryInput{Number: number, Title: title, URL: url})
	require.NoError(t, err)
	return e
}

func TestEntryService_CreateNormalises(t *testing.T) {
	svc, _, _ := newTestEntryService(t)

	e, err := svc.Create(context.Background(), EntryInput{
		Number: "4-1-1",
		Title:  "  Local   info ",
		URL:    "example.com/info",
		Note:   " desk ",
	})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Equal(t, "411", e.Number)
	assert.Equal(t, "Local info", e.Title)
	assert.Equal(t, "https://example.com/info", e.URL)
	assert.Equal(t, "desk", e.Note)
	assert.True(t, e.IsActive)
}

func TestEntryService_CreateRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input EntryInput
		field string
	}{
		{"no digits", EntryInput{Number: "abc", Title: "t", URL: "https://a.example"}, "number"},
		{"too long", EntryInput{Number: "12345678901234567", Title: "t", URL: "https://a.example"}, "number"},
		{"empty title", EntryInput{Number: "1", Title: "   ", URL: "https://a.example"}, "title"},
		{"empty url", EntryInput{Number: "1", Title: "t", URL: ""}, "url"},
		{"bad scheme", EntryInput{Number: "1", Title: "t", URL: "ftp://a.example"}, "url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.input)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
			assert.ErrorIs(t, err, ErrValidation)
			assert.NotErrorIs(t, err, ErrNumberExists)
		})
	}
}

func TestEntryService_CreateConflict(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	mustCreate(t, svc, "411", "Info", "https://a.example")

	_, err := svc.Create(context.Background(), EntryInput{Number: "4 1 1", Title: "Other", URL: "https://b.example"})
	assert.ErrorIs(t, err, ErrNumberExists)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEntryService_GetByNumberReadsThroughCache(t *testing.T) {
	svc, repo, mem := newTestEntryService(t)
	ctx := context.Background()
	created := mustCreate(t, svc, "411", "Info", "https://a.example")

	for i := 0; i < 3; i++ {
		e, err := svc.GetByNumber(ctx, "4-1-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, e.ID)
	}
	assert.Equal(t, 1, repo.numberReads)
	assert.Equal(t, 1, mem.Len())

	_, err := svc.GetByNumber(ctx, "999")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = svc.GetByNumber(ctx, "")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestEntryService_UpdateInvalidatesOldAndNewNumber(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	ctx := context.Background()
	created := mustCreate(t, svc, "411", "Info", "https://a.example")

	_, err := svc.GetByNumber(ctx, "411")
	require.NoError(t, err)

	newNumber := "412"
	newURL := "b.example"
	updated, err := svc.Update(ctx, created.ID, EntryPatch{Number: &newNumber, URL: &newURL})
	require.NoError(t, err)
	assert.Equal(t, "412", updated.Number)
	assert.Equal(t, "https://b.example", updated.URL)
	assert.Equal(t, "Info", updated.Title)

	_, err = svc.GetByNumber(ctx, "411")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	got, err := svc.GetByNumber(ctx, "412")
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", got.URL)
}

func TestEntryService_UpdateErrors(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "1", "One", "https://one.example")
	mustCreate(t, svc, "2", "Two", "https://two.example")

	_, err := svc.Update(ctx, a.ID, EntryPatch{})
	assert.ErrorIs(t, err, ErrNoChanges)

	title := "x"
	_, err = svc.Update(ctx, 999, EntryPatch{Title: &title})
	assert.ErrorIs(t, err, ErrEntryNotFound)

	taken := "2"
	_, err = svc.Update(ctx, a.ID, EntryPatch{Number: &taken})
	assert.ErrorIs(t, err, ErrNumberExists)

	same := "1"
	_, err = svc.Update(ctx, a.ID, EntryPatch{Number: &same})
	assert.NoError(t, err)

	empty := ""
	_, err = svc.Update(ctx, a.ID, EntryPatch{Title: &empty})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEntryService_ToggleHidesFromLookup(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	ctx := context.Background()
	created := mustCreate(t, svc, "911", "Help", "https://help.example")

	_, err := svc.GetByNumber(ctx, "911")
	require.NoError(t, err)

	off, err := svc.Toggle(ctx, created.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	_, err = svc.GetByNumber(ctx, "911")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	found, err := svc.FindByNumber(ctx, "911")
	require.NoError(t, err)
	assert.False(t, found.IsActive)

	_, err = svc.Toggle(ctx, created.ID, true)
	require.NoError(t, err)
	_, err = svc.GetByNumber(ctx, "911")
	assert.NoError(t, err)
}

func TestEntryService_Delete(t *testing.T) {
	svc, _, mem := newTestEntryService(t)
	ctx := context.Background()
	created := mustCreate(t, svc, "5", "Five", "https://five.example")
	_, err := svc.GetByNumber(ctx, "5")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.Equal(t, 0, mem.Len())
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrEntryNotFound)

	_, err = svc.GetByNumber(ctx, "5")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestEntryService_Bulk(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "1", "One", "https://one.example")
	b := mustCreate(t, svc, "2", "Two", "https://two.example")
	c := mustCreate(t, svc, "3", "Three", "https://three.example")

	n, err := svc.BulkToggle(ctx, []int64{a.ID, b.ID, b.ID, 999}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inactive := false
	count, err := svc.Count(ctx, &inactive)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	n, err = svc.BulkDelete(ctx, []int64{a.ID, c.ID, 12345})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestEntryService_SearchAndList(t *testing.T) {
	svc, _, _ := newTestEntryService(t)
	ctx := context.Background()
	mustCreate(t, svc, "411", "Info", "https://a.example")
	mustCreate(t, svc, "4112", "More", "https://b.example")

	got, err := svc.SearchByPrefix(ctx, "4-1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	empty, err := svc.SearchByPrefix(ctx, "--", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	entries, total, err := svc.List(ctx, repository.ListQuery{Search: "more"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "4112", entries[0].Number)

	exists, err := svc.NumberExists(ctx, "4-1-1", 0)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEntryService_NegativeFilterSkipsStorage(t *testing.T) {
	repo := newTestRepository(t)
	filter := cache.NewNumberFilter(100, 0.0001, time.Hour)
	svc := NewEntryService(EntryDeps{Repo: repo, Filter: filter})
	ctx := context.Background()

	mustCreate(t, svc, "411", "Info", "https://a.example")
	require.NoError(t, svc.WarmFilter(ctx))
	assert.True(t, filter.Ready())

	_, err := svc.GetByNumber(ctx, "411")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.numberReads)

	_, err = svc.GetByNumber(ctx, "98765")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.Equal(t, 1, repo.numberReads)

	mustCreate(t, svc, "98765", "Late", "https://late.example")
	_, err = svc.GetByNumber(ctx, "98765")
	assert.NoError(t, err)
}

func TestEntryService_FilterSeesOtherInstanceWrites(t *testing.T) {
	repo := newTestRepository(t)
	shared := cache.NewMemoryCache()
	ctx := context.Background()

	newInstance := func(maxAge time.Duration) EntryService {
		svc := NewEntryService(EntryDeps{
			Repo:   repo,
			Cache:  shared,
			Filter: cache.NewNumberFilter(100, 0.0001, maxAge),
		})
		require.NoError(t, svc.WarmFilter(ctx))
		return svc
	}
	a := newInstance(time.Hour)
	b := newInstance(time.Hour)
	c := newInstance(50 * time.Millisecond)

	mustCreate(t, a, "555", "Late", "https://late.example")
	_, err := a.GetByNumber(ctx, "555")
	require.NoError(t, err)
	require.NoError(t, shared.Delete(ctx, "555"))

	_, err = b.GetByNumber(ctx, "555")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	require.NoError(t, NewFilterRefresher(nil, b, time.Hour).Refresh(ctx))
	_, err = b.GetByNumber(ctx, "555")
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_ = shared.Delete(ctx, "555")
		_, err := c.GetByNumber(ctx, "555")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFilterRefresherInterval(t *testing.T) {
	assert.Equal(t, 30*time.Minute, NewFilterRefresher(nil, nil, time.Hour).Interval())
	assert.Equal(t, time.Minute, NewFilterRefresher(nil, nil, 10*time.Second).Interval())
}
