package conversation

import (
	"log/slog"
	"time"
)

// DefaultWebSocketURL is the ElevenLabs Agents Platform conversation endpoint.
const DefaultWebSocketURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// Config holds configuration for the ElevenLabs client.
type Config struct {
	// APIKey is sent as xi-api-key when connecting without a token.
	APIKey string

	// AgentID is used when connecting without a token.
	AgentID string

	// BaseURL overrides DefaultWebSocketURL.
	BaseURL string

	// DynamicVariables are passed in conversation_initiation_client_data.
	DynamicVariables map[string]string

	// Timeout bounds the websocket handshake.
	Timeout time.Duration

	// ReadTimeout is the longest silence tolerated from the server. The
	// vendor pings regularly, so this only trips on a dead socket.
	ReadTimeout time.Duration

	// WriteTimeout bounds each outbound frame.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      DefaultWebSocketURL,
		Timeout:      30 * time.Second,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 10 * time.Second,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithAgentID sets the agent ID.
func WithAgentID(id string) Option {
	return func(c *Config) {
		c.AgentID = id
	}
}

// WithBaseURL sets the websocket endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithDynamicVariables sets the agent's dynamic variables.
func WithDynamicVariables(vars map[string]string) Option {
	return func(c *Config) {
		c.DynamicVariables = vars
	}
}

// WithTimeout sets the handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
