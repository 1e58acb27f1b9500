package web

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-voicestudy/pkg/hub"
	"github.com/teslashibe/go-voicestudy/pkg/session"
)

// Envelope kinds pushed on /ws/status.
const (
	KindState    = "state"
	KindRedirect = "redirect"
)

// Broadcaster publishes controller state and redirects to a hub. It
// implements session.Observer and session.Navigator.
type Broadcaster struct {
	hub    *hub.Hub
	logger *slog.Logger
}

// NewBroadcaster wraps h.
func NewBroadcaster(h *hub.Hub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{hub: h, logger: logger.With("component", "web.broadcast")}
}

// StateChanged pushes {"type":"state","data":snapshot}.
func (b *Broadcaster) StateChanged(s session.Snapshot) {
	if err := b.hub.Publish(KindState, s); err != nil {
		b.logger.Warn("publish state failed", "error", err)
	}
}

// Redirect pushes {"type":"redirect","data":{"url":url}}. The page
// performs the navigation.
func (b *Broadcaster) Redirect(_ context.Context, url string) {
	if err := b.hub.Publish(KindRedirect, map[string]string{"url": url}); err != nil {
		b.logger.Warn("publish redirect failed", "error", err)
	}
}

var (
	_ session.Observer  = (*Broadcaster)(nil)
	_ session.Navigator = (*Broadcaster)(nil)
)
