package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation package.
var (
	// ErrMissingAPIKey indicates an agent-id connection has no API key.
	ErrMissingAPIKey = errors.New("conversation: API key is required")

	// ErrMissingAgentID indicates neither a signed URL nor an agent ID
	// was given.
	ErrMissingAgentID = errors.New("conversation: agent ID is required")

	// ErrUnsignedToken indicates a credential that is not a signed
	// websocket URL. WebRTC conversation tokens cannot open a websocket
	// session.
	ErrUnsignedToken = errors.New("conversation: websocket sessions need a signed URL")

	// ErrNotConnected indicates there is no live session.
	ErrNotConnected = errors.New("conversation: not connected")

	// ErrConnectionClosed indicates the remote side closed the session.
	ErrConnectionClosed = errors.New("conversation: connection closed")

	// ErrUnsupportedConnection indicates a connection type this client
	// cannot open, such as webrtc.
	ErrUnsupportedConnection = errors.New("conversation: unsupported connection type")
)

// APIError is an error event reported by the vendor.
type APIError struct {
	// StatusCode is the HTTP status code, if any.
	StatusCode int

	// Code is the vendor error code.
	Code string

	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("conversation: API error [%s]: %s", e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("conversation: API error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("conversation: API error: %s", e.Message)
}

// NewAPIError creates an APIError.
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// ConnectionError is a websocket transport failure.
type ConnectionError struct {
	Reason string

	// Status is the HTTP status of a rejected handshake, zero otherwise.
	Status int

	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("conversation: connection error: %s (HTTP %d): %v", e.Reason, e.Status, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("conversation: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("conversation: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(reason string, cause error) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause}
}

// IsNotConnected reports whether err means there was no live session.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}
