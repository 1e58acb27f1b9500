// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "encoding/json"

// Message is one JSON text frame to be broadcast to clients
type Message struct {
	Data []byte
}

// NewJSONMessage creates a message from pre-encoded JSON
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}

// Envelope is the JSON frame pushed to status clients:
// {"type": "state", "data": {...}}.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EncodeEnvelope marshals an Envelope into a JSON message.
func EncodeEnvelope(kind string, data any) (Message, error) {
	b, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(b), nil
}
