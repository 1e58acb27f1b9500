package token

import (
	"errors"
	"fmt"
	"net/http"
)

// Public error bodies returned by GET /api/token and /api/signed-url.
const (
	MessageConfiguration = "Missing agentId parameter or AGENT_ID in environment variables, or XI_API_KEY"
	MessageUpstream      = "Failed to get conversation token from ElevenLabs"
	MessageInternal      = "Internal server error"
)

var (
	// ErrMissingToken indicates the vendor answered 2xx without a token field.
	ErrMissingToken = errors.New("token: response has no token")

	// ErrMissingSignedURL indicates the vendor answered 2xx without a
	// signed_url field.
	ErrMissingSignedURL = errors.New("token: response has no signed_url")
)

// ConfigurationError reports missing agent id or credential.
type ConfigurationError struct {
	// Missing names the absent settings, e.g. "AGENT_ID".
	Missing []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("token: missing configuration: %v", e.Missing)
}

// UpstreamError reports a non-success response from the vendor token endpoint.
type UpstreamError struct {
	// Status is the upstream HTTP status code.
	Status int

	// Body is the (truncated) upstream response body, for logs only.
	Body string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("token: upstream returned HTTP %d", e.Status)
}

// InternalError wraps transport and decoding failures.
type InternalError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("token: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *InternalError) Unwrap() error {
	return e.Cause
}

// StatusCode maps an Issue error to the HTTP status the endpoint replies with.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the error text safe to show to callers.
func PublicMessage(err error) string {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return MessageConfiguration
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return MessageUpstream
	}
	return MessageInternal
}
