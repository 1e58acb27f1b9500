// Package conversation connects a participant's session to the ElevenLabs
// Agents Platform over websocket.
package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicestudy/pkg/session"
)

// Message sources reported to the session.
const (
	SourceUser = "user"
	SourceAI   = "ai"
)

// ElevenLabs implements session.Client for the ElevenLabs Agents Platform.
type ElevenLabs struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	current *liveSession
	metrics Metrics
	dialing atomic.Bool
}

// liveSession is one websocket conversation.
type liveSession struct {
	conn   *websocket.Conn
	sink   session.EventSink
	cancel context.CancelFunc
	done   chan struct{}

	writeMu  sync.Mutex
	closing  atomic.Bool
	terminal sync.Once

	sent          atomic.Int64
	received      atomic.Int64
	audioSent     atomic.Int64
	audioReceived atomic.Int64
}

// NewElevenLabs creates a client. With a conversation token per session no
// credentials are needed here; WithAPIKey and WithAgentID enable connecting
// without a token.
func NewElevenLabs(opts ...Option) *ElevenLabs {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWebSocketURL
	}
	return &ElevenLabs{
		config: cfg,
		logger: cfg.Logger.With("component", "conversation.elevenlabs"),
	}
}

// StartSession dials the conversation endpoint, sends the initiation
// message and reports Connected. Audio from req.Audio is streamed until
// the channel closes or the session ends. Any previous session is closed
// without notifying its sink.
func (e *ElevenLabs) StartSession(ctx context.Context, req session.Request, sink session.EventSink) error {
	if req.ConnectionType != "" && req.ConnectionType != "websocket" {
		return fmt.Errorf("%w: %s", ErrUnsupportedConnection, req.ConnectionType)
	}

	wsURL, headers, err := e.dialTarget(req.Token)
	if err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.current
	e.current = nil
	e.mu.Unlock()
	if prev != nil {
		e.logger.Warn("replacing live session")
		prev.shutdown(false)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: e.config.Timeout,
	}

	e.logger.Info("connecting to ElevenLabs Agents Platform", "signed_url", req.Token != "")
	e.dialing.Store(true)
	defer e.dialing.Store(false)
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return &ConnectionError{
				Reason: "dial failed",
				Status: resp.StatusCode,
				Cause:  err,
			}
		}
		return NewConnectionError("dial failed", err)
	}

	s := &liveSession{
		conn: conn,
		sink: sink,
		done: make(chan struct{}),
	}

	if err := s.writeJSON(e.config.WriteTimeout, e.initiation()); err != nil {
		conn.Close()
		return NewConnectionError("send initiation failed", err)
	}

	// The attempt may have been abandoned while dialing.
	if err := ctx.Err(); err != nil {
		conn.Close()
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	e.mu.Lock()
	e.current = s
	e.metrics = Metrics{ConnectionTime: time.Now()}
	e.mu.Unlock()

	sink.Connected()

	go e.readLoop(sessCtx, s)
	if req.Audio != nil {
		go e.pumpAudio(sessCtx, s, req.Audio)
	}

	e.logger.Info("connected to ElevenLabs Agents Platform")
	return nil
}

// EndSession closes the live session and reports Disconnected.
func (e *ElevenLabs) EndSession(ctx context.Context) error {
	e.mu.Lock()
	s := e.current
	e.current = nil
	e.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}

	e.snapshotMetrics(s)
	s.closing.Store(true)

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	closeErr := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	s.writeMu.Unlock()

	s.shutdown(true)

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.logger.Info("disconnected from ElevenLabs Agents Platform")
	if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
		return NewConnectionError("close handshake failed", closeErr)
	}
	return nil
}

// IsConnected reports whether a session is live.
func (e *ElevenLabs) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// State returns the connection state.
func (e *ElevenLabs) State() ConnectionState {
	if e.IsConnected() {
		return StateConnected
	}
	if e.dialing.Load() {
		return StateConnecting
	}
	return StateDisconnected
}

// Metrics returns counters for the current or last session.
func (e *ElevenLabs) Metrics() Metrics {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()
	if s != nil {
		e.snapshotMetrics(s)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

func (e *ElevenLabs) snapshotMetrics(s *liveSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.MessagesSent = s.sent.Load()
	e.metrics.MessagesReceived = s.received.Load()
	e.metrics.AudioBytesSent = s.audioSent.Load()
	e.metrics.AudioBytesReceived = s.audioReceived.Load()
}

// dialTarget resolves where to connect. A signed URL from the
// get-signed-url endpoint already carries agent_id and
// conversation_signature and is dialed as-is. Without one the client
// falls back to agent_id plus the xi-api-key header.
func (e *ElevenLabs) dialTarget(signedURL string) (string, http.Header, error) {
	if signedURL != "" {
		u, err := url.Parse(signedURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return "", nil, ErrUnsignedToken
		}
		if u.Query().Get("conversation_signature") == "" {
			return "", nil, ErrUnsignedToken
		}
		return u.String(), http.Header{}, nil
	}

	if e.config.AgentID == "" {
		return "", nil, ErrMissingAgentID
	}
	if e.config.APIKey == "" {
		return "", nil, ErrMissingAPIKey
	}
	u, err := url.Parse(e.config.BaseURL)
	if err != nil {
		return "", nil, fmt.Errorf("conversation.elevenlabs: invalid URL: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", e.config.AgentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)
	return u.String(), headers, nil
}

func (e *ElevenLabs) initiation() map[string]any {
	msg := map[string]any{
		"type": "conversation_initiation_client_data",
	}
	if len(e.config.DynamicVariables) > 0 {
		msg["dynamic_variables"] = e.config.DynamicVariables
	}
	return msg
}

func (e *ElevenLabs) pumpAudio(ctx context.Context, s *liveSession, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if len(frame) == 0 {
				continue
			}
			msg := map[string]string{
				"user_audio_chunk": base64.StdEncoding.EncodeToString(frame),
			}
			if err := s.writeJSON(e.config.WriteTimeout, msg); err != nil {
				if !s.closing.Load() {
					e.logger.Warn("send audio failed", "error", err)
				}
				return
			}
			s.audioSent.Add(int64(len(frame)))
		}
	}
}

func (e *ElevenLabs) readLoop(ctx context.Context, s *liveSession) {
	defer close(s.done)

	for {
		if e.config.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil {
				return
			}
			e.detach(s)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.logger.Info("session closed by remote")
				s.finish(nil)
				return
			}
			e.logger.Error("read error", "error", err)
			s.finish(NewConnectionError("read failed", err))
			return
		}
		s.received.Add(1)

		var msg elevenLabsIncoming
		if err := json.Unmarshal(data, &msg); err != nil {
			e.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if stop := e.handleMessage(s, msg); stop {
			return
		}
	}
}

// handleMessage returns true when the session is over.
func (e *ElevenLabs) handleMessage(s *liveSession, msg elevenLabsIncoming) bool {
	switch msg.Type {
	case "conversation_initiation_metadata":
		if msg.InitiationMetadata != nil {
			e.mu.Lock()
			e.metrics.ConversationID = msg.InitiationMetadata.ConversationID
			e.mu.Unlock()
			e.logger.Info("conversation started",
				"conversation_id", msg.InitiationMetadata.ConversationID,
				"input_format", msg.InitiationMetadata.UserInputAudioFormat)
		}

	case "user_transcript":
		text := msg.Text
		if msg.UserTranscription != nil {
			text = msg.UserTranscription.UserTranscript
		}
		s.sink.Message(session.Message{Source: SourceUser, Text: text})

	case "agent_response":
		text := msg.Text
		if msg.AgentResponse != nil {
			text = msg.AgentResponse.AgentResponse
		}
		s.sink.Message(session.Message{Source: SourceAI, Text: text})

	case "audio":
		audio := msg.Audio
		if msg.AudioEvent != nil && msg.AudioEvent.AudioBase64 != "" {
			audio = msg.AudioEvent.AudioBase64
		}
		s.audioReceived.Add(int64(base64.StdEncoding.DecodedLen(len(audio))))

	case "interruption":
		e.logger.Debug("agent interrupted")

	case "ping":
		eventID := 0
		if msg.PingEvent != nil {
			eventID = msg.PingEvent.EventID
		}
		if err := s.writeJSON(e.config.WriteTimeout, map[string]any{"type": "pong", "event_id": eventID}); err != nil {
			e.logger.Warn("pong failed", "error", err)
		}

	case "error":
		code, message := msg.Code, msg.Message
		if msg.ErrorEvent != nil {
			code, message = msg.ErrorEvent.Code, msg.ErrorEvent.Message
		}
		e.detach(s)
		s.finish(NewAPIError(0, code, message))
		s.shutdown(false)
		return true

	default:
		e.logger.Debug("unhandled message type", "type", msg.Type)
	}
	return false
}

// detach forgets s if it is still the current session.
func (e *ElevenLabs) detach(s *liveSession) {
	e.snapshotMetrics(s)
	e.mu.Lock()
	if e.current == s {
		e.current = nil
	}
	e.mu.Unlock()
}

func (s *liveSession) writeJSON(timeout time.Duration, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conversation.elevenlabs: marshal failed: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// shutdown stops the session's goroutines and closes the socket. When
// notify is set the sink gets Disconnected.
func (s *liveSession) shutdown(notify bool) {
	s.closing.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.conn.Close()
	if notify {
		s.finish(nil)
	} else {
		s.terminal.Do(func() {})
	}
}

// finish delivers the single terminal event.
func (s *liveSession) finish(err error) {
	s.terminal.Do(func() {
		if err != nil {
			s.sink.Failed(err)
			return
		}
		s.sink.Disconnected()
	})
}

// Message types for the ElevenLabs conversation API.

type elevenLabsIncoming struct {
	Type    string `json:"type"`
	Audio   string `json:"audio,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	AudioEvent         *audioEvent             `json:"audio_event,omitempty"`
	PingEvent          *pingEvent              `json:"ping_event,omitempty"`
	UserTranscription  *userTranscriptionEvent `json:"user_transcription_event,omitempty"`
	AgentResponse      *agentResponseEvent     `json:"agent_response_event,omitempty"`
	InitiationMetadata *initiationMetadata     `json:"conversation_initiation_metadata_event,omitempty"`
	ErrorEvent         *errorEvent             `json:"error_event,omitempty"`
}

type audioEvent struct {
	EventID     int    `json:"event_id"`
	AudioBase64 string `json:"audio_base_64"`
}

type pingEvent struct {
	EventID int `json:"event_id"`
	PingMs  int `json:"ping_ms,omitempty"`
}

type userTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type agentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type initiationMetadata struct {
	ConversationID         string `json:"conversation_id"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format"`
	UserInputAudioFormat   string `json:"user_input_audio_format"`
}

type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var _ session.Client = (*ElevenLabs)(nil)
