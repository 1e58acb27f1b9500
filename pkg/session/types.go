package session

import (
	"context"
	"time"
)

// Microphone acquires exclusive audio capture.
type Microphone interface {
	// Acquire blocks until capture is granted or denied.
	Acquire(ctx context.Context) (MicHandle, error)
}

// MicHandle is a live capture stream. Release must be safe to call more
// than once.
type MicHandle interface {
	// Frames delivers 16-bit mono PCM chunks until Release.
	Frames() <-chan []byte
	Release() error
}

// TokenSource provides the per-session credential, a signed websocket URL
// for the ElevenLabs client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Request carries what the client needs to open a real-time session.
type Request struct {
	// Token is the credential from the TokenSource. Empty lets the client
	// fall back to its own agent id and API key.
	Token          string
	ConnectionType string

	// Audio is read-only; the controller owns the underlying handle.
	Audio <-chan []byte
}

// Message is one inbound transcript message.
type Message struct {
	// Source is the declared speaker, e.g. "user" or "ai".
	Source string
	Text   string
}

// EventSink receives session events from a Client. A sink is bound to one
// attempt; events delivered after the attempt is superseded are dropped.
type EventSink interface {
	Connected()
	Message(m Message)
	Disconnected()
	Failed(err error)
}

// Client is the real-time conversation transport.
//
// StartSession returns once the session is open or has failed. Events are
// delivered to sink with Connected first and at most one of Disconnected or
// Failed. Starting a session replaces any previous one.
type Client interface {
	StartSession(ctx context.Context, req Request, sink EventSink) error
	EndSession(ctx context.Context) error
}

// Observer is notified after every visible state change. It is called on
// the controller loop and must not block.
type Observer interface {
	StateChanged(s Snapshot)
}

// Navigator performs the survey redirect.
type Navigator interface {
	Redirect(ctx context.Context, url string)
}

// TranscriptLine is one labelled line of the conversation.
type TranscriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// String formats the line the way the participant page shows it.
func (l TranscriptLine) String() string {
	return l.Speaker + ": " + l.Text
}

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	State          State            `json:"state"`
	Attempt        uint64           `json:"attempt"`
	SessionID      string           `json:"session_id,omitempty"`
	Transcript     []TranscriptLine `json:"transcript"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
	Completed      bool             `json:"completed"`
	Error          string           `json:"error,omitempty"`
	RedirectURL    string           `json:"redirect_url,omitempty"`
	MicActive      bool             `json:"mic_active"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// StateChanged calls f(s).
func (f ObserverFunc) StateChanged(s Snapshot) { f(s) }

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string)

// Redirect calls f(ctx, url).
func (f NavigatorFunc) Redirect(ctx context.Context, url string) { f(ctx, url) }
