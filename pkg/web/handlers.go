package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicestudy/pkg/hub"
	"github.com/teslashibe/go-voicestudy/pkg/session"
	"github.com/teslashibe/go-voicestudy/pkg/token"
)

// commandTimeout bounds how long a request waits on the controller loop.
const commandTimeout = 15 * time.Second

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok"}
	if s.status != nil {
		body["status_hub"] = fiber.Map{
			"running": s.status.IsRunning(),
			"clients": s.status.ClientCount(),
		}
	}
	return c.JSON(body)
}

// handleToken issues a conversation token. Failures carry only a generic
// message; details go to the log.
func (s *Server) handleToken(c *fiber.Ctx) error {
	if s.tokens == nil {
		return s.issue(c, "token", nil)
	}
	return s.issue(c, "token", s.tokens.Issue)
}

// handleSignedURL is handleToken for the websocket signed URL. A
// controller on another host reads it through token.HTTPSource.
func (s *Server) handleSignedURL(c *fiber.Ctx) error {
	if s.tokens == nil {
		return s.issue(c, "signed_url", nil)
	}
	return s.issue(c, "signed_url", s.tokens.SignedURL)
}

func (s *Server) issue(c *fiber.Ctx, field string, fn func(context.Context, string) (string, error)) error {
	c.Set(fiber.HeaderCacheControl, "no-store")

	if fn == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": token.MessageConfiguration,
		})
	}

	cred, err := fn(c.UserContext(), c.Query("agentId"))
	if err != nil {
		s.logger.Error("credential request failed", "field", field, "error", err)
		return c.Status(token.StatusCode(err)).JSON(fiber.Map{
			"error": token.PublicMessage(err),
		})
	}
	return c.JSON(fiber.Map{field: cred})
}

// handleSession returns the current snapshot.
func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(s.sessions.Snapshot())
}

// handleStart begins a new attempt.
func (s *Server) handleStart(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), commandTimeout)
	defer cancel()

	if err := s.sessions.Start(ctx); err != nil {
		return s.commandError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.sessions.Snapshot())
}

// handleEnd ends the session and returns the policy outcome.
func (s *Server) handleEnd(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), commandTimeout)
	defer cancel()

	outcome, err := s.sessions.End(ctx)
	if err != nil {
		return s.commandError(c, err)
	}
	return c.JSON(outcome)
}

func (s *Server) commandError(c *fiber.Ctx, err error) error {
	status := commandStatus(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("session command failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// commandStatus maps controller errors to HTTP status codes.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrNoActiveSession):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// handleStatusWS streams snapshots. The current snapshot is sent first.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	var initial []hub.Message
	if s.sessions != nil {
		if msg, err := hub.EncodeEnvelope(KindState, s.sessions.Snapshot()); err == nil {
			initial = append(initial, msg)
		}
	}
	hub.NewClient(s.status, c, initial...).Run()
}
