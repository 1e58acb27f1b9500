package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/teslashibe/go-voicestudy/internal/httpc"
)

// HTTPSource fetches credentials from another voicestudy server, so the
// controller can run on a machine that holds no API key. Point it at
// GET /api/signed-url for the websocket client.
type HTTPSource struct {
	endpoint string
	agentID  string
	client   *http.Client
}

// NewHTTPSource creates a source for endpoint, e.g.
// "http://localhost:3000/api/signed-url". agentID is sent as ?agentId= when
// set.
func NewHTTPSource(endpoint, agentID string) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		agentID:  agentID,
		client:   httpc.Client,
	}
}

// Token performs one GET and returns signed_url from the JSON envelope,
// or token when the endpoint serves plain tokens.
func (s *HTTPSource) Token(ctx context.Context) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", &InternalError{Op: "parse endpoint", Cause: err}
	}
	if s.agentID != "" {
		q := u.Query()
		q.Set("agentId", s.agentID)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", &InternalError{Op: "create request", Cause: err}
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &InternalError{Op: "request", Cause: err}
	}
	defer resp.Body.Close()

	var envelope struct {
		SignedURL string `json:"signed_url"`
		Token     string `json:"token"`
		Error     string `json:"error"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", &InternalError{Op: "read response", Cause: err}
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", &InternalError{Op: "decode response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadGateway {
			return "", &UpstreamError{Status: resp.StatusCode, Body: envelope.Error}
		}
		return "", &InternalError{
			Op:    "token endpoint",
			Cause: fmt.Errorf("HTTP %d: %s", resp.StatusCode, envelope.Error),
		}
	}
	if envelope.SignedURL != "" {
		return envelope.SignedURL, nil
	}
	if envelope.Token == "" {
		return "", &InternalError{Op: "decode response", Cause: ErrMissingToken}
	}
	return envelope.Token, nil
}
