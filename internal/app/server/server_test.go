package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/cache"
	"github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/ratelimit"
	"github.com/sifan077/SpeedDial/internal/app/repository"
	"github.com/sifan077/SpeedDial/internal/app/service"
	inthttp "github.com/sifan077/SpeedDial/internal/http/handler"
	"github.com/sifan077/SpeedDial/internal/http/middleware"
	httpUtil "github.com/sifan077/SpeedDial/internal/http/util"
	"github.com/sifan077/SpeedDial/internal/infra/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "test-admin-token"

type testEnv struct {
	app     *fiber.App
	entries service.EntryService
	nonces  *httpUtil.NonceSigner
}

func newTestEnv(t *testing.T, dial config.SpeedDialConfig, checks ...inthttp.HealthCheck) *testEnv {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(context.Background(), db, &model.Entry{}))
	t.Cleanup(func() { _ = database.Close(db) })

	entries := service.NewEntryService(service.EntryDeps{
		Repo:   repository.NewEntryRepository(db),
		Cache:  cache.NewMemoryCache(),
		Config: dial,
	})
	dial = dial.WithDefaults()
	lookup := service.NewLookupService(service.LookupDeps{
		Entries: entries,
		Limiter: ratelimit.NewMemoryLimiter(ratelimit.Config{Max: dial.RateLimitMax, Window: dial.RateLimitWindow}),
		Config:  dial,
	})
	nonces := httpUtil.NewNonceSigner([]byte("test-secret"), time.Hour)

	srv := New(Dependencies{
		App:          config.AppConfig{CORSOrigins: "*"},
		Admin:        config.AdminConfig{Token: adminToken},
		Dial:         dial,
		Entries:      entries,
		Lookup:       lookup,
		Transfer:     service.NewTransferService(nil, entries, nil, dial),
		Nonces:       nonces,
		HealthChecks: checks,
	})
	return &testEnv{app: srv.App(), entries: entries, nonces: nonces}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, target string) *http.Response {
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (e *testEnv) admin(t *testing.T, method, target, action string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+adminToken)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if action != "" {
		nonce, err := e.nonces.Issue(action)
		require.NoError(t, err)
		req.Header.Set(middleware.NonceHeader, nonce)
	}
	return e.do(t, req)
}

func (e *testEnv) create(t *testing.T, number, title, url string, active bool) *model.Entry {
	t.Helper()
	entry, err := e.entries.Create(context.Background(), service.EntryInput{
		Number: number, Title: title, URL: url, IsActive: &active,
	})
	require.NoError(t, err)
	return entry
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestLookup(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})
	env.create(t, "411", "Info", "example.com/info", true)
	env.create(t, "500", "Retired", "https://old.example", false)

	t.Run("found", func(t *testing.T) {
		resp := env.get(t, "/api/v1/lookup?number=4-1-1")
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		decode(t, resp, &body)
		assert.Equal(t, true, body["found"])
		assert.Equal(t, "411", body["number"])
		assert.Equal(t, "Info", body["title"])
		assert.Equal(t, "https://example.com/info", body["url"])
		assert.Equal(t, "", body["note"])
	})

	t.Run("unassigned", func(t *testing.T) {
		resp := env.get(t, "/api/v1/lookup?number=999")
		require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

		var body map[string]interface{}
		decode(t, resp, &body)
		assert.Equal(t, false, body["found"])
		assert.Equal(t, "999", body["number"])
		assert.Equal(t, "Number not assigned", body["message"])
	})

	t.Run("inactive", func(t *testing.T) {
		resp := env.get(t, "/api/v1/lookup?number=500")
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid", func(t *testing.T) {
		resp := env.get(t, "/api/v1/lookup?number=abc")
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		var body map[string]interface{}
		decode(t, resp, &body)
		assert.Equal(t, "invalid number format", body["error"])
	})
}

func TestLookupRateLimit(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{RateLimitEnabled: true, RateLimitMax: 30, RateLimitWindow: time.Minute})
	env.create(t, "411", "Info", "https://example.com", true)

	for i := 0; i < 30; i++ {
		resp := env.get(t, "/api/v1/lookup?number=411")
		require.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp := env.get(t, "/api/v1/lookup?number=411")
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "rate limit exceeded", body["error"])

	// Another number has its own window.
	other := env.get(t, "/api/v1/lookup?number=412")
	assert.Equal(t, fiber.StatusNotFound, other.StatusCode)
}

func TestSuggest(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})
	env.create(t, "411", "Info", "https://a.example", true)
	env.create(t, "412", "Weather", "https://b.example", true)
	env.create(t, "413", "Hidden", "https://c.example", false)
	env.create(t, "500", "Other", "https://d.example", true)

	resp := env.get(t, "/api/v1/suggest?prefix=41")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var got []model.Suggestion
	decode(t, resp, &got)
	assert.Equal(t, []model.Suggestion{{Number: "411", Title: "Info"}, {Number: "412", Title: "Weather"}}, got)

	limited := env.get(t, "/api/v1/suggest?prefix=4&limit=1")
	var one []model.Suggestion
	decode(t, limited, &one)
	assert.Len(t, one, 1)

	empty := env.get(t, "/api/v1/suggest?prefix=")
	require.Equal(t, fiber.StatusOK, empty.StatusCode)
	assert.JSONEq(t, `[]`, readBody(t, empty))
}

func TestDial(t *testing.T) {
	t.Run("redirects without delay", func(t *testing.T) {
		env := newTestEnv(t, config.SpeedDialConfig{})
		env.create(t, "411", "Info", "https://example.com/info", true)

		resp := env.get(t, "/dial/411")
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://example.com/info", resp.Header.Get(fiber.HeaderLocation))
	})

	t.Run("connecting page with delay", func(t *testing.T) {
		env := newTestEnv(t, config.SpeedDialConfig{RedirectDelay: 1500 * time.Millisecond, AutoRedirect: true})
		env.create(t, "411", "Info <desk>", "https://example.com/info", true)

		resp := env.get(t, "/dial/411")
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")

		html := readBody(t, resp)
		assert.Contains(t, html, "Info &lt;desk&gt;")
		assert.Contains(t, html, `href="https://example.com/info"`)
		assert.Contains(t, html, "Connecting you to the site...")
		assert.Contains(t, html, "1500")
	})

	t.Run("unassigned", func(t *testing.T) {
		env := newTestEnv(t, config.SpeedDialConfig{})
		resp := env.get(t, "/dial/999")
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminRequiresToken(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})

	resp := env.get(t, "/api/v1/admin/stats")
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer wrong")
	assert.Equal(t, fiber.StatusForbidden, env.do(t, req).StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set(middleware.AdminTokenHeader, adminToken)
	assert.Equal(t, fiber.StatusOK, env.do(t, req).StatusCode)
}

func TestAdminStats(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})
	env.create(t, "1", "One", "https://one.example", true)
	env.create(t, "2", "Two", "https://two.example", true)
	env.create(t, "3", "Three", "https://three.example", false)

	resp := env.admin(t, http.MethodGet, "/api/v1/admin/stats", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]int64
	decode(t, resp, &body)
	assert.Equal(t, map[string]int64{"total_entries": 3, "active_entries": 2, "inactive_entries": 1}, body)
}

func TestAdminNonce(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})

	resp := env.admin(t, http.MethodGet, "/api/v1/admin/nonce?action="+inthttp.ActionAddNumber, "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Action    string `json:"action"`
		Nonce     string `json:"nonce"`
		ExpiresIn int    `json:"expires_in"`
	}
	decode(t, resp, &body)
	assert.Equal(t, inthttp.ActionAddNumber, body.Action)
	assert.Equal(t, 3600, body.ExpiresIn)
	assert.NoError(t, env.nonces.Validate(inthttp.ActionAddNumber, body.Nonce))

	unknown := env.admin(t, http.MethodGet, "/api/v1/admin/nonce?action=sd_anything", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, unknown.StatusCode)
}

func TestAdminEntryLifecycle(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})
	payload := map[string]interface{}{"number": "4-1-1", "title": "Info", "url": "example.com"}

	missing := env.admin(t, http.MethodPost, "/api/v1/admin/entries", "", payload)
	assert.Equal(t, fiber.StatusForbidden, missing.StatusCode)

	wrongAction := env.admin(t, http.MethodPost, "/api/v1/admin/entries", inthttp.ActionDeleteNumber, payload)
	assert.Equal(t, fiber.StatusForbidden, wrongAction.StatusCode)

	resp := env.admin(t, http.MethodPost, "/api/v1/admin/entries", inthttp.ActionAddNumber, payload)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created model.Entry
	decode(t, resp, &created)
	assert.Equal(t, "411", created.Number)
	assert.Equal(t, "https://example.com", created.URL)
	assert.True(t, created.IsActive)

	dup := env.admin(t, http.MethodPost, "/api/v1/admin/entries", inthttp.ActionAddNumber,
		map[string]interface{}{"number": "4 1 1", "title": "Again", "url": "https://b.example"})
	require.Equal(t, fiber.StatusConflict, dup.StatusCode)
	var dupBody map[string]string
	decode(t, dup, &dupBody)
	assert.Equal(t, "number", dupBody["field"])

	noTitle := env.admin(t, http.MethodPost, "/api/v1/admin/entries", inthttp.ActionAddNumber,
		map[string]interface{}{"number": "412", "url": "https://b.example"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, noTitle.StatusCode)

	id := strconv.FormatInt(created.ID, 10)

	check := env.admin(t, http.MethodGet, "/api/v1/admin/entries/check?number=411", "", nil)
	var exists map[string]bool
	decode(t, check, &exists)
	assert.True(t, exists["exists"])

	checkSelf := env.admin(t, http.MethodGet, "/api/v1/admin/entries/check?number=411&exclude_id="+id, "", nil)
	var self map[string]bool
	decode(t, checkSelf, &self)
	assert.False(t, self["exists"])

	patched := env.admin(t, http.MethodPatch, "/api/v1/admin/entries/"+id, inthttp.ActionEditNumber,
		map[string]interface{}{"title": "Directory", "is_active": false})
	require.Equal(t, fiber.StatusOK, patched.StatusCode)
	var updated model.Entry
	decode(t, patched, &updated)
	assert.Equal(t, "Directory", updated.Title)
	assert.False(t, updated.IsActive)

	assert.Equal(t, fiber.StatusNotFound, env.get(t, "/api/v1/lookup?number=411").StatusCode)

	got := env.admin(t, http.MethodGet, "/api/v1/admin/entries/"+id, "", nil)
	assert.Equal(t, fiber.StatusOK, got.StatusCode)

	empty := env.admin(t, http.MethodPatch, "/api/v1/admin/entries/"+id, inthttp.ActionEditNumber, map[string]interface{}{})
	assert.Equal(t, fiber.StatusBadRequest, empty.StatusCode)

	badID := env.admin(t, http.MethodGet, "/api/v1/admin/entries/abc", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, badID.StatusCode)

	deleted := env.admin(t, http.MethodDelete, "/api/v1/admin/entries/"+id, inthttp.ActionDeleteNumber, nil)
	assert.Equal(t, fiber.StatusNoContent, deleted.StatusCode)

	gone := env.admin(t, http.MethodGet, "/api/v1/admin/entries/"+id, "", nil)
	assert.Equal(t, fiber.StatusNotFound, gone.StatusCode)

	again := env.admin(t, http.MethodDelete, "/api/v1/admin/entries/"+id, inthttp.ActionDeleteNumber, nil)
	assert.Equal(t, fiber.StatusNotFound, again.StatusCode)
}

func TestAdminListEntries(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})
	env.create(t, "100", "Alpha", "https://a.example", true)
	env.create(t, "200", "Beta", "https://b.example", false)
	env.create(t, "300", "Gamma", "https://c.example", true)

	resp := env.admin(t, http.MethodGet, "/api/v1/admin/entries?orderby=number&order=asc&limit=2", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var page struct {
		Items []model.Entry `json:"items"`
		Total int64         `json:"total"`
	}
	decode(t, resp, &page)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "100", page.Items[0].Number)
	assert.Equal(t, "200", page.Items[1].Number)

	active := env.admin(t, http.MethodGet, "/api/v1/admin/entries?active=0", "", nil)
	var inactive struct {
		Items []model.Entry `json:"items"`
		Total int64         `json:"total"`
	}
	decode(t, active, &inactive)
	assert.Equal(t, int64(1), inactive.Total)

	search := env.admin(t, http.MethodGet, "/api/v1/admin/entries?search=gam", "", nil)
	var found struct {
		Items []model.Entry `json:"items"`
	}
	decode(t, search, &found)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "300", found.Items[0].Number)
}

func TestAdminBulk(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})
	a := env.create(t, "100", "Alpha", "https://a.example", true)
	b := env.create(t, "200", "Beta", "https://b.example", true)

	resp := env.admin(t, http.MethodPost, "/api/v1/admin/entries/bulk", inthttp.ActionBulk,
		map[string]interface{}{"action": "deactivate", "ids": []int64{a.ID, b.ID, 9999}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "deactivate", body["action"])
	assert.EqualValues(t, 2, body["count"])

	assert.Equal(t, fiber.StatusNotFound, env.get(t, "/api/v1/lookup?number=100").StatusCode)

	bad := env.admin(t, http.MethodPost, "/api/v1/admin/entries/bulk", inthttp.ActionBulk,
		map[string]interface{}{"action": "explode", "ids": []int64{a.ID}})
	assert.Equal(t, fiber.StatusBadRequest, bad.StatusCode)

	del := env.admin(t, http.MethodPost, "/api/v1/admin/entries/bulk", inthttp.ActionBulk,
		map[string]interface{}{"action": "delete", "ids": []int64{a.ID}})
	var delBody map[string]interface{}
	decode(t, del, &delBody)
	assert.EqualValues(t, 1, delBody["count"])
}

const importCSV = "number,title,url,note,is_active\n" +
	"411,Info,example.com/info,,1\n" +
	"412,,https://example.com/x,,1\n" +
	"413,Weather,https://weather.example,rain,0\n"

func TestAdminImportExport(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/import", strings.NewReader(importCSV))
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+adminToken)
	req.Header.Set(fiber.HeaderContentType, "text/csv")
	nonce, err := env.nonces.Issue(inthttp.ActionImportCSV)
	require.NoError(t, err)
	req.Header.Set(middleware.NonceHeader, nonce)

	resp := env.do(t, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var result service.ImportResult
	decode(t, resp, &result)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Equal(t, 1, result.SkippedCount)
	require.Len(t, result.Details, 3)
	assert.Equal(t, service.ActionSkipped, result.Details[1].Action)
	assert.Equal(t, service.StatusError, result.Details[1].Status)

	export := env.admin(t, http.MethodGet, "/api/v1/admin/export", "", nil)
	require.Equal(t, fiber.StatusOK, export.StatusCode)
	assert.Contains(t, export.Header.Get(fiber.HeaderContentType), "text/csv")
	assert.Contains(t, export.Header.Get(fiber.HeaderContentDisposition), "attachment")
	assert.Contains(t, export.Header.Get(fiber.HeaderContentDisposition), "speed-dial-export-")

	body := readBody(t, export)
	assert.True(t, strings.HasPrefix(body, "\xEF\xBB\xBF"), "export starts with a BOM")
	assert.Equal(t, "\xEF\xBB\xBF"+
		"number,title,url,note,is_active\n"+
		"411,Info,https://example.com/info,,1\n"+
		"413,Weather,https://weather.example,rain,0\n", body)
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("csv_file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestAdminImportMultipart(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})

	upload := func(filename string) *http.Response {
		body, contentType := multipartUpload(t, filename, "\xEF\xBB\xBF"+importCSV)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/import", body)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+adminToken)
		req.Header.Set(fiber.HeaderContentType, contentType)
		nonce, err := env.nonces.Issue(inthttp.ActionImportCSV)
		require.NoError(t, err)
		req.Header.Set(middleware.NonceHeader, nonce)
		return env.do(t, req)
	}

	assert.Equal(t, fiber.StatusBadRequest, upload("entries.txt").StatusCode)

	resp := upload("entries.CSV")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var result service.ImportResult
	decode(t, resp, &result)
	assert.Equal(t, 2, result.SuccessCount)

	entry, err := env.entries.FindByNumber(context.Background(), "413")
	require.NoError(t, err)
	assert.False(t, entry.IsActive)
	assert.Equal(t, "rain", entry.Note)
}

func TestAdminImportTooLarge(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{ImportMaxRows: 1})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/import", strings.NewReader(importCSV))
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+adminToken)
	req.Header.Set(fiber.HeaderContentType, "text/csv")
	nonce, err := env.nonces.Issue(inthttp.ActionImportCSV)
	require.NoError(t, err)
	req.Header.Set(middleware.NonceHeader, nonce)

	assert.Equal(t, fiber.StatusRequestEntityTooLarge, env.do(t, req).StatusCode)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := newTestEnv(t, config.SpeedDialConfig{}, inthttp.HealthCheck{
		Name:  "database",
		Check: func(context.Context) error { return nil },
	})
	assert.Equal(t, fiber.StatusOK, healthy.get(t, "/health").StatusCode)
	assert.Equal(t, fiber.StatusOK, healthy.get(t, "/readyz").StatusCode)

	down := newTestEnv(t, config.SpeedDialConfig{}, inthttp.HealthCheck{
		Name:  "redis",
		Check: func(context.Context) error { return errors.New("connection refused") },
	})
	resp := down.get(t, "/readyz")
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "down", body.Checks["redis"])
}

func TestUnknownRouteIsJSON(t *testing.T) {
	env := newTestEnv(t, config.SpeedDialConfig{})

	resp := env.get(t, "/nope")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}
