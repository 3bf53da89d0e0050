// Package api is the HTTP surface used by the web UI. Every route except the
// OAuth callback and the health check requires a bearer token whose userId
// claim selects the user.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// shutdownTimeout bounds graceful shutdown once Start's context ends.
const shutdownTimeout = 10 * time.Second

// maxUploadBytes limits spreadsheet uploads.
const maxUploadBytes = 20 << 20

const (
	defaultStatusStreamTimeout = 10 * time.Minute
	statusHeartbeat            = 15 * time.Second
)

// Services are the driving ports the API exposes.
type Services struct {
	Connections driving.ConnectionService
	Entities    driving.EntityService
	Transfer    driving.TransferService
	Audit       driving.AuditService
}

// Config configures the server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8420".
	Addr string
	// JWTSecret verifies bearer tokens.
	JWTSecret string
	// AllowOrigins is a comma-separated CORS origin list. Empty disables CORS.
	AllowOrigins string
	// CallbackRedirect, if set, is where the browser is sent after the OAuth
	// callback instead of receiving JSON.
	CallbackRedirect string
	// StatusStreamTimeout ends a status event stream. Clients reconnect.
	// Zero means ten minutes.
	StatusStreamTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	cfg  Config
	svc  Services
	auth *Authenticator
	app  *fiber.App
}

// NewServer builds the fiber app and registers routes.
func NewServer(cfg Config, svc Services) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("api: jwt secret is required")
	}
	if svc.Connections == nil || svc.Entities == nil || svc.Transfer == nil || svc.Audit == nil {
		return nil, errors.New("api: all services are required")
	}

	s := &Server{
		cfg:  cfg,
		svc:  svc,
		auth: NewAuthenticator(cfg.JWTSecret),
	}
	// Params and queries outlive the handler (bulk delete, audit details), so
	// they must not alias fasthttp's reused buffers.
	s.app = fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             maxUploadBytes,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Authenticator returns the token verifier used by the server.
func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api: listening on %s", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(requestLogger())
	if s.cfg.AllowOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.AllowOrigins,
			AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
			AllowHeaders: "Content-Type,Authorization",
		}))
	}

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// The callback is reached by a browser redirect; state identifies the user.
	s.app.Get("/api/connection/callback", s.callback)

	api := s.app.Group("/api", s.auth.Middleware())

	api.Post("/connection/connect", s.connect)
	api.Get("/connection/status", s.status)
	api.Get("/connection/status/stream", s.statusStream)
	api.Delete("/connection", s.disconnect)

	api.Get("/entities", s.listEntityTypes)
	api.Get("/entities/:type/records", s.fetchRecords)
	api.Post("/entities/:type/records", s.createRecord)
	api.Put("/entities/:type/records/:id", s.updateRecord)
	api.Delete("/entities/:type/records/:id", s.deleteRecord)
	api.Post("/entities/:type/delete", s.deleteMany)
	api.Get("/entities/:type/export", s.export)
	api.Post("/entities/:type/import", s.importRecords)

	api.Get("/logs", s.logs)
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.L().Debug("http request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}
