package web

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// controlRequest is a command sent over /ws/control.
type controlRequest struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// controlReply answers one controlRequest.
type controlReply struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) registerControl(app *fiber.App) {
	app.Get("/ws/control", websocket.New(s.handleControl))
}

// handleControl accepts start and end commands. Each command is answered
// with an ack carrying the snapshot or outcome, or an error.
func (s *Server) handleControl(c *websocket.Conn) {
	var writeMu sync.Mutex
	reply := func(r controlReply) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := c.WriteJSON(r); err != nil {
			s.logger.Debug("control write failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
	}()

	s.logger.Debug("control client connected", "remote", c.RemoteAddr().String())
	defer s.logger.Debug("control client disconnected")

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req controlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply(controlReply{Type: "error", Error: "invalid message"})
			continue
		}

		switch req.Type {
		case "start":
			cmdCtx, done := context.WithTimeout(ctx, commandTimeout)
			err := s.sessions.Start(cmdCtx)
			done()
			if err != nil {
				reply(controlReply{Type: "error", ID: req.ID, Command: req.Type, Error: err.Error()})
				continue
			}
			reply(controlReply{Type: "ack", ID: req.ID, Command: req.Type, Data: s.sessions.Snapshot()})

		case "end":
			// End waits for the close handshake; keep reading meanwhile.
			inflight.Add(1)
			go func(req controlRequest) {
				defer inflight.Done()
				cmdCtx, done := context.WithTimeout(ctx, commandTimeout)
				defer done()
				outcome, err := s.sessions.End(cmdCtx)
				if err != nil {
					reply(controlReply{Type: "error", ID: req.ID, Command: req.Type, Error: err.Error()})
					return
				}
				reply(controlReply{Type: "ack", ID: req.ID, Command: req.Type, Data: outcome})
			}(req)

		case "ping":
			reply(controlReply{Type: "pong", ID: req.ID})

		default:
			reply(controlReply{Type: "error", ID: req.ID, Command: req.Type, Error: "unknown command"})
		}
	}
}
