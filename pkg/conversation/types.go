package conversation

import "time"

// ConnectionState represents the websocket connection state.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the handshake is in progress.
	StateConnecting
	// StateConnected indicates an active connection.
	StateConnected
)

// String returns a human-readable connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Metrics tracks usage of the current or last session.
type Metrics struct {
	ConversationID     string    `json:"conversation_id,omitempty"`
	ConnectionTime     time.Time `json:"connection_time"`
	MessagesSent       int64     `json:"messages_sent"`
	MessagesReceived   int64     `json:"messages_received"`
	AudioBytesSent     int64     `json:"audio_bytes_sent"`
	AudioBytesReceived int64     `json:"audio_bytes_received"`
}
