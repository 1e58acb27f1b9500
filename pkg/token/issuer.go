// Package token issues short-lived ElevenLabs conversation credentials:
// WebRTC conversation tokens for the browser page and signed websocket
// URLs for the server-side session client.
//
// The issuer is a one-shot pass-through: one outbound request per call,
// no retries and no caching.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/go-voicestudy/internal/httpc"
)

// DefaultBaseURL is the ElevenLabs API host.
const DefaultBaseURL = "https://api.elevenlabs.io"

const (
	tokenPath     = "/v1/convai/conversation/token"
	signedURLPath = "/v1/convai/conversation/get-signed-url"
)

// maxErrorBody bounds how much of an upstream error body is kept for logs.
const maxErrorBody = 512

// Config holds the settings the issuer needs. It is passed at construction
// instead of being read from the environment per request.
type Config struct {
	// AgentID is the default agent used when no override is given.
	AgentID string

	// APIKey is the ElevenLabs secret sent as xi-api-key.
	APIKey string

	// BaseURL overrides the API host. Empty means DefaultBaseURL.
	BaseURL string

	// AllowAgentOverride lets callers pick the agent with ?agentId=.
	AllowAgentOverride bool
}

// Validate reports which required settings are absent.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.AgentID) == "" {
		missing = append(missing, "AGENT_ID")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "XI_API_KEY")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Issuer requests conversation tokens from ElevenLabs.
type Issuer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Issuer) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewIssuer creates an issuer. Missing credentials are not an error here;
// each Issue call reports them as a ConfigurationError.
func NewIssuer(cfg Config, opts ...Option) *Issuer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	i := &Issuer{
		cfg:    cfg,
		client: httpc.Client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns a fresh WebRTC conversation token. agentOverride replaces
// the configured agent id when non-empty and overrides are allowed.
func (i *Issuer) Issue(ctx context.Context, agentOverride string) (string, error) {
	var payload struct {
		Token string `json:"token"`
	}
	agentID, err := i.fetch(ctx, tokenPath, agentOverride, &payload)
	if err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", &InternalError{Op: "decode response", Cause: ErrMissingToken}
	}

	i.logger.Debug("conversation token issued", "agent_id", agentID)
	return payload.Token, nil
}

// SignedURL returns a fresh signed websocket URL. The URL carries the
// agent id and conversation signature, so the holder needs no API key.
func (i *Issuer) SignedURL(ctx context.Context, agentOverride string) (string, error) {
	var payload struct {
		SignedURL string `json:"signed_url"`
	}
	agentID, err := i.fetch(ctx, signedURLPath, agentOverride, &payload)
	if err != nil {
		return "", err
	}
	if payload.SignedURL == "" {
		return "", &InternalError{Op: "decode response", Cause: ErrMissingSignedURL}
	}

	i.logger.Debug("signed url issued", "agent_id", agentID)
	return payload.SignedURL, nil
}

// fetch performs one authenticated GET against path and decodes the JSON
// body into dst. It returns the agent id the request was made for.
func (i *Issuer) fetch(ctx context.Context, path, agentOverride string, dst any) (string, error) {
	agentID := i.cfg.AgentID
	if override := strings.TrimSpace(agentOverride); override != "" && i.cfg.AllowAgentOverride {
		agentID = override
	}

	resolved := Config{AgentID: agentID, APIKey: i.cfg.APIKey}
	if err := resolved.Validate(); err != nil {
		return agentID, err
	}

	endpoint := i.cfg.BaseURL + path + "?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return agentID, &InternalError{Op: "create request", Cause: err}
	}
	req.Header.Set("xi-api-key", i.cfg.APIKey)

	resp, err := i.client.Do(req)
	if err != nil {
		return agentID, &InternalError{Op: "request", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		i.logger.Warn("credential request rejected",
			"path", path,
			"status", resp.StatusCode,
			"agent_id", agentID,
			"body", string(body))
		return agentID, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return agentID, &InternalError{Op: "decode response", Cause: err}
	}
	return agentID, nil
}

// String describes the issuer for logs without leaking the key.
func (i *Issuer) String() string {
	return fmt.Sprintf("token.Issuer{base=%s agent=%s}", i.cfg.BaseURL, i.cfg.AgentID)
}

// SignedURLSource hands the controller a signed URL per session for the
// configured agent.
type SignedURLSource struct {
	issuer *Issuer
}

// NewSignedURLSource wraps an issuer.
func NewSignedURLSource(i *Issuer) *SignedURLSource {
	return &SignedURLSource{issuer: i}
}

// Token implements session.TokenSource.
func (s *SignedURLSource) Token(ctx context.Context) (string, error) {
	return s.issuer.SignedURL(ctx, "")
}
