package server

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/ratelimit"
	"github.com/sifan077/SpeedDial/internal/app/service"
	inthttp "github.com/sifan077/SpeedDial/internal/http/handler"
	"github.com/sifan077/SpeedDial/internal/http/middleware"
	httpUtil "github.com/sifan077/SpeedDial/internal/http/util"
	"go.uber.org/zap"
)

const appName = "SpeedDial"

// Dependencies bundles the services required by the HTTP server.
type Dependencies struct {
	Logger   *zap.Logger
	App      config.AppConfig
	Admin    config.AdminConfig
	Dial     config.SpeedDialConfig
	Entries  service.EntryService
	Lookup   *service.LookupService
	Transfer *service.TransferService
	Nonces   *httpUtil.NonceSigner
	// IPLimiter throttles public routes per client IP; nil disables it.
	IPLimiter    ratelimit.Limiter
	HealthChecks []inthttp.HealthCheck
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with every route registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		BodyLimit:             deps.App.BodyLimit,
		DisableStartupMessage: deps.App.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.CORS(s.deps.App.CORSOrigins))
}

func (s *Server) registerRoutes() {
	logger := s.deps.Logger

	inthttp.NewHealthHandler(logger.Named("health"), appName, s.deps.HealthChecks...).Register(s.app)

	var guards []fiber.Handler
	if s.deps.IPLimiter != nil {
		guards = append(guards, middleware.RateLimit(s.deps.IPLimiter, logger))
	}

	api := s.app.Group("/api/v1")

	inthttp.NewLookupHandler(inthttp.LookupDeps{
		Logger: logger.Named("lookup"),
		Lookup: s.deps.Lookup,
		Config: s.deps.Dial,
	}).Register(api, s.app, guards...)

	inthttp.NewAdminHandler(inthttp.AdminDeps{
		Logger:   logger.Named("admin"),
		Token:    s.deps.Admin.Token,
		Entries:  s.deps.Entries,
		Transfer: s.deps.Transfer,
		Nonces:   s.deps.Nonces,
	}).Register(api)
}

// errorHandler renders errors that escaped the handlers, such as unknown
// routes or oversized bodies, as JSON.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message = fe.Message
		} else {
			logger.Error("unhandled request error", zap.Error(err), zap.String("path", c.Path()))
		}

		return c.Status(status).JSON(fiber.Map{
			"error": message,
		})
	}
}
