// Package web serves the participant-facing HTTP API: conversation tokens,
// session control and live status over websocket.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicestudy/pkg/hub"
	"github.com/teslashibe/go-voicestudy/pkg/session"
)

// TokenIssuer issues conversation credentials, optionally for another
// agent: WebRTC tokens for the browser page and signed websocket URLs for
// remote session clients.
type TokenIssuer interface {
	Issue(ctx context.Context, agentOverride string) (string, error)
	SignedURL(ctx context.Context, agentOverride string) (string, error)
}

// Sessions is the session controller as seen by the HTTP layer.
type Sessions interface {
	Snapshot() session.Snapshot
	Start(ctx context.Context) error
	End(ctx context.Context) (session.Outcome, error)
}

// Options configures a Server.
type Options struct {
	Tokens   TokenIssuer
	Sessions Sessions

	// Status is the hub pushed to /ws/status clients. It is usually the
	// hub behind the Broadcaster given to the controller.
	Status *hub.Hub

	// StaticDir is served at / when set.
	StaticDir string

	Logger *slog.Logger
}

// Server is the voicestudy HTTP server.
type Server struct {
	app      *fiber.App
	tokens   TokenIssuer
	sessions Sessions
	status   *hub.Hub
	logger   *slog.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		tokens:   opts.Tokens,
		sessions: opts.Sessions,
		status:   opts.Status,
		logger:   opts.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicestudy",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/token", s.handleToken)
	api.Get("/signed-url", s.handleSignedURL)
	api.Get("/session", s.handleSession)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/end", s.handleEnd)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	if s.status != nil {
		app.Get("/ws/status", websocket.New(s.handleStatusWS))
	}
	s.registerControl(app)

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
