package handler

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/internal/app/repository"
	"github.com/sifan077/SpeedDial/internal/app/service"
	"github.com/sifan077/SpeedDial/internal/http/middleware"
	"github.com/sifan077/SpeedDial/internal/http/util"
	"go.uber.org/zap"
)

// Nonce actions guarding each admin mutation.
const (
	ActionAddNumber    = "sd_add_number"
	ActionEditNumber   = "sd_edit_number"
	ActionDeleteNumber = "sd_delete_number"
	ActionBulk         = "sd_bulk_action"
	ActionImportCSV    = "sd_import_csv"
)

var nonceActions = map[string]struct{}{
	ActionAddNumber:    {},
	ActionEditNumber:   {},
	ActionDeleteNumber: {},
	ActionBulk:         {},
	ActionImportCSV:    {},
}

const (
	defaultPageSize = 20
	maxPageSize     = 100

	bulkDelete     = "delete"
	bulkActivate   = "activate"
	bulkDeactivate = "deactivate"
)

// AdminDeps groups dependencies required by admin handlers.
type AdminDeps struct {
	Logger   *zap.Logger
	Token    string
	Entries  service.EntryService
	Transfer *service.TransferService
	Nonces   *util.NonceSigner
}

// AdminHandler implements the management API.
type AdminHandler struct {
	logger   *zap.Logger
	token    string
	entries  service.EntryService
	transfer *service.TransferService
	nonces   *util.NonceSigner
	now      func() time.Time
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		logger:   logger,
		token:    deps.Token,
		entries:  deps.Entries,
		transfer: deps.Transfer,
		nonces:   deps.Nonces,
		now:      time.Now,
	}
}

// Register wires the admin routes under /admin on the provided router.
func (h *AdminHandler) Register(router fiber.Router) {
	admin := router.Group("/admin", middleware.RequireAdmin(h.token, h.logger))
	{
		admin.Get("/nonce", h.IssueNonce)
		admin.Get("/stats", h.Stats)
		admin.Get("/export", h.Export)
		admin.Post("/import", middleware.RequireNonce(h.nonces, ActionImportCSV), h.Import)

		entries := admin.Group("/entries")
		{
			entries.Get("/", h.ListEntries)
			entries.Post("/", middleware.RequireNonce(h.nonces, ActionAddNumber), h.CreateEntry)
			entries.Get("/check", h.CheckNumber)
			entries.Post("/bulk", middleware.RequireNonce(h.nonces, ActionBulk), h.BulkAction)
			entries.Get("/:id", h.GetEntry)
			entries.Patch("/:id", middleware.RequireNonce(h.nonces, ActionEditNumber), h.UpdateEntry)
			entries.Delete("/:id", middleware.RequireNonce(h.nonces, ActionDeleteNumber), h.DeleteEntry)
		}
	}
}

// IssueNonce handles GET /api/v1/admin/nonce?action=
func (h *AdminHandler) IssueNonce(c *fiber.Ctx) error {
	action := c.Query("action")
	if _, ok := nonceActions[action]; !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown nonce action",
		})
	}

	nonce, err := h.nonces.Issue(action)
	if err != nil {
		return respondError(c, h.logger, "issue nonce", err)
	}
	return c.JSON(fiber.Map{
		"action":     action,
		"nonce":      nonce,
		"expires_in": int(h.nonces.TTL().Seconds()),
	})
}

// Stats handles GET /api/v1/admin/stats
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	total, err := h.entries.Count(ctx, nil)
	if err != nil {
		return respondError(c, h.logger, "count entries", err)
	}
	active := true
	activeCount, err := h.entries.Count(ctx, &active)
	if err != nil {
		return respondError(c, h.logger, "count entries", err)
	}

	return c.JSON(fiber.Map{
		"total_entries":    total,
		"active_entries":   activeCount,
		"inactive_entries": total - activeCount,
	})
}

// ListEntries handles GET /api/v1/admin/entries
func (h *AdminHandler) ListEntries(c *fiber.Ctx) error {
	limit := defaultPageSize
	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= maxPageSize {
		limit = parsed
	}
	offset := 0
	if parsed := c.QueryInt("offset"); parsed > 0 {
		offset = parsed
	}

	query := repository.ListQuery{
		Search:  c.Query("search"),
		OrderBy: c.Query("orderby", "created_at"),
		Desc:    !strings.EqualFold(c.Query("order", "desc"), "asc"),
		Limit:   limit,
		Offset:  offset,
	}
	switch strings.ToLower(c.Query("active")) {
	case "1", "true", "yes":
		active := true
		query.Active = &active
	case "0", "false", "no":
		inactive := false
		query.Active = &inactive
	}

	items, total, err := h.entries.List(c.UserContext(), query)
	if err != nil {
		return respondError(c, h.logger, "list entries", err)
	}
	return c.JSON(fiber.Map{
		"items": items,
		"total": total,
	})
}

// CheckNumber handles GET /api/v1/admin/entries/check?number=&exclude_id=
func (h *AdminHandler) CheckNumber(c *fiber.Ctx) error {
	exists, err := h.entries.NumberExists(c.UserContext(), c.Query("number"), int64(c.QueryInt("exclude_id")))
	if err != nil {
		return respondError(c, h.logger, "check number", err)
	}
	return c.JSON(fiber.Map{"exists": exists})
}

// GetEntry handles GET /api/v1/admin/entries/:id
func (h *AdminHandler) GetEntry(c *fiber.Ctx) error {
	id, ok := entryID(c)
	if !ok {
		return badID(c)
	}
	entry, err := h.entries.GetByID(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, "get entry", err)
	}
	return c.JSON(entry)
}

// EntryRequest is the body of POST /entries. Omitted is_active means active.
type EntryRequest struct {
	Number   string `json:"number"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Note     string `json:"note"`
	IsActive *bool  `json:"is_active"`
}

// CreateEntry handles POST /api/v1/admin/entries
func (h *AdminHandler) CreateEntry(c *fiber.Ctx) error {
	var req EntryRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	entry, err := h.entries.Create(c.UserContext(), service.EntryInput{
		Number:   req.Number,
		Title:    req.Title,
		URL:      req.URL,
		Note:     req.Note,
		IsActive: req.IsActive,
	})
	if err != nil {
		return respondError(c, h.logger, "create entry", err)
	}

	h.logger.Info("entry created", zap.Int64("id", entry.ID), zap.String("number", entry.Number))
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// EntryPatchRequest is the body of PATCH /entries/:id; absent fields are kept.
type EntryPatchRequest struct {
	Number   *string `json:"number"`
	Title    *string `json:"title"`
	URL      *string `json:"url"`
	Note     *string `json:"note"`
	IsActive *bool   `json:"is_active"`
}

// UpdateEntry handles PATCH /api/v1/admin/entries/:id
func (h *AdminHandler) UpdateEntry(c *fiber.Ctx) error {
	id, ok := entryID(c)
	if !ok {
		return badID(c)
	}
	var req EntryPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	entry, err := h.entries.Update(c.UserContext(), id, service.EntryPatch{
		Number:   req.Number,
		Title:    req.Title,
		URL:      req.URL,
		Note:     req.Note,
		IsActive: req.IsActive,
	})
	if err != nil {
		return respondError(c, h.logger, "update entry", err)
	}
	return c.JSON(entry)
}

// DeleteEntry handles DELETE /api/v1/admin/entries/:id
func (h *AdminHandler) DeleteEntry(c *fiber.Ctx) error {
	id, ok := entryID(c)
	if !ok {
		return badID(c)
	}
	if err := h.entries.Delete(c.UserContext(), id); err != nil {
		return respondError(c, h.logger, "delete entry", err)
	}

	h.logger.Info("entry deleted", zap.Int64("id", id))
	return c.SendStatus(fiber.StatusNoContent)
}

// BulkRequest is the body of POST /entries/bulk.
type BulkRequest struct {
	Action string  `json:"action"`
	IDs    []int64 `json:"ids"`
}

// BulkAction handles POST /api/v1/admin/entries/bulk
func (h *AdminHandler) BulkAction(c *fiber.Ctx) error {
	var req BulkRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if len(req.IDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ids are required",
		})
	}

	ctx := c.UserContext()
	var (
		count int
		err   error
	)
	switch req.Action {
	case bulkDelete:
		count, err = h.entries.BulkDelete(ctx, req.IDs)
	case bulkActivate:
		count, err = h.entries.BulkToggle(ctx, req.IDs, true)
	case bulkDeactivate:
		count, err = h.entries.BulkToggle(ctx, req.IDs, false)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "action must be one of: delete, activate, deactivate",
		})
	}
	if err != nil {
		h.logger.Error("bulk action partially failed",
			zap.String("action", req.Action),
			zap.Int("applied", count),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "internal server error",
			"action": req.Action,
			"count":  count,
		})
	}

	return c.JSON(fiber.Map{
		"action": req.Action,
		"count":  count,
	})
}

// Import handles POST /api/v1/admin/import with either a multipart csv_file
// field or a raw text/csv body.
func (h *AdminHandler) Import(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var (
		result *service.ImportResult
		err    error
	)
	if file, ferr := c.FormFile("csv_file"); ferr == nil {
		if !strings.EqualFold(filepath.Ext(file.Filename), ".csv") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "csv_file must be a .csv file",
				"field": "csv_file",
			})
		}
		f, oerr := file.Open()
		if oerr != nil {
			return respondError(c, h.logger, "open upload", oerr)
		}
		defer f.Close()
		result, err = h.transfer.ImportCSV(ctx, f)
	} else if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), "text/csv") {
		result, err = h.transfer.ImportCSV(ctx, bytes.NewReader(c.Body()))
	} else {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "csv_file is required",
			"field": "csv_file",
		})
	}

	if err != nil && result == nil {
		return respondError(c, h.logger, "import csv", err)
	}
	if err != nil {
		// Interrupted mid-way: report what was applied.
		h.logger.Warn("csv import interrupted", zap.Error(err))
	}
	return c.JSON(result)
}

// Export handles GET /api/v1/admin/export
func (h *AdminHandler) Export(c *fiber.Ctx) error {
	var buf bytes.Buffer
	n, err := h.transfer.Export(c.UserContext(), &buf)
	if err != nil {
		return respondError(c, h.logger, "export csv", err)
	}

	name := service.ExportFilename(h.now())
	h.logger.Info("csv export", zap.Int("rows", n), zap.String("file", name))

	c.Attachment(name)
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(buf.Bytes())
}

func entryID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

func badID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid entry id",
	})
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid request body",
	})
}
