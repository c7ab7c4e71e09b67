package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/service"
	"github.com/sifan077/SpeedDial/internal/http/middleware"
	"github.com/sifan077/SpeedDial/internal/http/view"
	"go.uber.org/zap"
)

const (
	defaultSuggestLimit = 5
	maxSuggestLimit     = 10
)

// LookupDeps groups dependencies required by the public lookup handlers.
type LookupDeps struct {
	Logger *zap.Logger
	Lookup *service.LookupService
	Config config.SpeedDialConfig
}

// LookupHandler serves the unauthenticated number lookup routes.
type LookupHandler struct {
	logger *zap.Logger
	lookup *service.LookupService
	cfg    config.SpeedDialConfig
}

func NewLookupHandler(deps LookupDeps) *LookupHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LookupHandler{
		logger: logger,
		lookup: deps.Lookup,
		cfg:    deps.Config.WithDefaults(),
	}
}

// Register wires the JSON API onto api and the browser dial route onto root.
// guards run ahead of every public route.
func (h *LookupHandler) Register(api fiber.Router, root fiber.Router, guards ...fiber.Handler) {
	api.Get("/lookup", with(guards, h.Lookup)...)
	api.Get("/suggest", with(guards, h.Suggest)...)
	root.Get("/dial/:number", with(guards, h.Dial)...)
}

func with(guards []fiber.Handler, handler fiber.Handler) []fiber.Handler {
	return append(append(make([]fiber.Handler, 0, len(guards)+1), guards...), handler)
}

// Lookup handles GET /api/v1/lookup?number=
func (h *LookupHandler) Lookup(c *fiber.Ctx) error {
	result, err := h.resolve(c, c.Query("number"))
	if err != nil {
		return h.respondLookupError(c, err)
	}

	status := fiber.StatusOK
	if !result.Found {
		status = fiber.StatusNotFound
	}
	return c.Status(status).JSON(result.Payload())
}

// Suggest handles GET /api/v1/suggest?prefix=&limit=
func (h *LookupHandler) Suggest(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultSuggestLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxSuggestLimit {
		limit = maxSuggestLimit
	}

	suggestions, err := h.lookup.Suggest(c.UserContext(), c.Query("prefix"), limit)
	if err != nil {
		return respondError(c, h.logger, "suggest", err)
	}
	if suggestions == nil {
		suggestions = []model.Suggestion{}
	}
	return c.JSON(suggestions)
}

// Dial handles GET /dial/:number. With no redirect delay configured the
// caller is sent straight to the site; otherwise the connecting page is shown.
func (h *LookupHandler) Dial(c *fiber.Ctx) error {
	result, err := h.resolve(c, c.Params("number"))
	if err != nil {
		return h.respondLookupError(c, err)
	}
	if !result.Found {
		return c.Status(fiber.StatusNotFound).JSON(result.Payload())
	}

	if h.cfg.RedirectDelay <= 0 {
		h.logger.Debug("dialing number", zap.String("number", result.Number), zap.String("target", result.URL))
		return c.Redirect(result.URL, fiber.StatusFound)
	}

	html, err := view.RenderConnectingPage(view.ConnectingPageData{
		Title:          result.Title,
		Number:         result.Number,
		TargetURL:      result.URL,
		ConnectingText: h.cfg.ConnectingText,
		VisitText:      h.cfg.VisitText,
		AutoRedirect:   h.cfg.AutoRedirect,
		DelayMs:        h.cfg.RedirectDelay.Milliseconds(),
	})
	if err != nil {
		return respondError(c, h.logger, "render connecting page", err)
	}

	return c.
		Type("html", "utf-8").
		SendString(html)
}

func (h *LookupHandler) resolve(c *fiber.Ctx, number string) (*service.LookupResult, error) {
	return h.lookup.Lookup(c.UserContext(), service.LookupRequest{
		Number:    number,
		ClientIP:  middleware.ClientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
}

func (h *LookupHandler) respondLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrRateLimited) {
		return respondRateLimited(c, h.cfg.RateLimitWindow)
	}
	return respondError(c, h.logger, "lookup", err)
}
