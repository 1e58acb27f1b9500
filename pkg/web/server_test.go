package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicestudy/internal/log"
	"github.com/teslashibe/go-voicestudy/pkg/audioio"
	"github.com/teslashibe/go-voicestudy/pkg/conversation"
	"github.com/teslashibe/go-voicestudy/pkg/hub"
	"github.com/teslashibe/go-voicestudy/pkg/session"
	"github.com/teslashibe/go-voicestudy/pkg/session/sessiontest"
	"github.com/teslashibe/go-voicestudy/pkg/token"
)

const testSurveyURL = "https://forms.example.com/to/survey"

type stubIssuer struct {
	mu       sync.Mutex
	token    string
	err      error
	override string
}

func (s *stubIssuer) Issue(_ context.Context, agentOverride string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = agentOverride
	return s.token, s.err
}

func (s *stubIssuer) SignedURL(_ context.Context, agentOverride string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = agentOverride
	return s.token, s.err
}

func (s *stubIssuer) Token(ctx context.Context) (string, error) {
	return s.SignedURL(ctx, "")
}

type fixture struct {
	server     *Server
	controller *session.Controller
	client     *conversation.Mock
	clock      *sessiontest.FakeClock
	mic        *audioio.Microphone
	issuer     *stubIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.Discard()

	ctx, cancel := context.WithCancel(context.Background())

	status := hub.New("status", logger)
	go status.Run(ctx)

	issuer := &stubIssuer{token: "tok_123"}
	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.BackendMock
	mic := audioio.NewMicrophone(audioCfg, logger)
	client := conversation.NewMock()
	clock := sessiontest.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	broadcaster := NewBroadcaster(status, logger)

	controller := session.New(session.Config{
		Microphone: mic,
		Tokens:     issuer,
		Client:     client,
		Policy:     session.DefaultPolicy(testSurveyURL),
		Clock:      clock,
		Observer:   broadcaster,
		Navigator:  broadcaster,
		Logger:     logger,
	})
	go controller.Run(ctx)

	server := NewServer(Options{
		Tokens:   issuer,
		Sessions: controller,
		Status:   status,
		Logger:   logger,
	})

	t.Cleanup(func() {
		cancel()
		<-controller.Done()
		<-status.Done()
	})

	return &fixture{
		server:     server,
		controller: controller,
		client:     client,
		clock:      clock,
		mic:        mic,
		issuer:     issuer,
	}
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	resp, err := f.server.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func (f *fixture) waitState(t *testing.T, want session.State) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := f.controller.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", f.controller.Snapshot().State, want)
	return session.Snapshot{}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got struct {
		Status    string `json:"status"`
		StatusHub *struct {
			Clients int `json:"clients"`
		} `json:"status_hub"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body %s: %v", body, err)
	}
	if got.Status != "ok" {
		t.Errorf("status = %q", got.Status)
	}
	if got.StatusHub == nil || got.StatusHub.Clients != 0 {
		t.Errorf("status_hub = %s, want zero clients", body)
	}
}

func TestTokenEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		err        error
		path       string
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "success",
			token:      "abc",
			path:       "/api/token",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"token": "abc"},
		},
		{
			name:       "missing configuration",
			err:        &token.ConfigurationError{Missing: []string{"AGENT_ID"}},
			path:       "/api/token",
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]string{"error": token.MessageConfiguration},
		},
		{
			name:       "upstream failure",
			err:        &token.UpstreamError{Status: 401, Body: "bad key"},
			path:       "/api/token",
			wantStatus: http.StatusBadGateway,
			wantBody:   map[string]string{"error": token.MessageUpstream},
		},
		{
			name:       "internal failure",
			err:        &token.InternalError{Op: "decode", Cause: errors.New("eof")},
			path:       "/api/token",
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]string{"error": token.MessageInternal},
		},
		{
			name:       "signed url",
			token:      "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=a&conversation_signature=s",
			path:       "/api/signed-url",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"signed_url": "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=a&conversation_signature=s"},
		},
		{
			name:       "signed url upstream failure",
			err:        &token.UpstreamError{Status: 401, Body: "bad key"},
			path:       "/api/signed-url",
			wantStatus: http.StatusBadGateway,
			wantBody:   map[string]string{"error": token.MessageUpstream},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.issuer.token = tt.token
			f.issuer.err = tt.err

			resp, body := f.do(t, http.MethodGet, tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}

			var got map[string]string
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("body %s: %v", body, err)
			}
			for k, v := range tt.wantBody {
				if got[k] != v {
					t.Errorf("body[%q] = %q, want %q", k, got[k], v)
				}
			}
			if len(got) != len(tt.wantBody) {
				t.Errorf("body = %v, want %v", got, tt.wantBody)
			}
		})
	}
}

func TestTokenAgentOverridePassedThrough(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/token?agentId=agent_other")

	f.issuer.mu.Lock()
	defer f.issuer.mu.Unlock()
	if f.issuer.override != "agent_other" {
		t.Errorf("override = %q", f.issuer.override)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/session")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/session status = %d", resp.StatusCode)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != session.StateDisconnected {
		t.Errorf("initial state = %v", snap.State)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/session/end")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("end while idle status = %d, want 409", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/session/start")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", resp.StatusCode)
	}
	f.waitState(t, session.StateConnected)

	req, ok := f.client.LastRequest()
	if !ok || req.Token != "tok_123" {
		t.Errorf("client request = %+v", req)
	}
	if !f.mic.Live() {
		t.Error("microphone should be live while connected")
	}

	resp, _ = f.do(t, http.MethodPost, "/api/session/start")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	f.clock.Advance(75 * time.Second)

	resp, body = f.do(t, http.MethodPost, "/api/session/end")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, body = %s", resp.StatusCode, body)
	}
	var outcome session.Outcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.Completed {
		t.Error("75s session should not complete")
	}
	if outcome.ElapsedSeconds != 75 {
		t.Errorf("elapsed = %d, want 75", outcome.ElapsedSeconds)
	}
	if !strings.Contains(outcome.Message, "1m 15s") {
		t.Errorf("message = %q", outcome.Message)
	}

	f.waitState(t, session.StateDisconnected)
	if f.mic.Live() {
		t.Error("microphone should be released after end")
	}
}

func TestCommandStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&session.InvalidTransitionError{Op: "start", From: session.StateConnected}, http.StatusConflict},
		{session.ErrNoActiveSession, http.StatusConflict},
		{session.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := commandStatus(tt.err); got != tt.want {
			t.Errorf("commandStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/ws/status")
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

// listen serves the fixture on a loopback port and returns its ws base URL.
func (f *fixture) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = f.server.App().Listener(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.server.Shutdown(ctx)
	})
	return "ws://" + ln.Addr().String()
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn, kind string) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %q: %v", kind, err)
		}
		if env.Type == kind {
			return env
		}
	}
}

func TestStatusSocketAndControlSocket(t *testing.T) {
	f := newFixture(t)
	base := f.listen(t)

	status, _, err := websocket.DefaultDialer.Dial(base+"/ws/status", nil)
	if err != nil {
		t.Fatalf("dial status: %v", err)
	}
	defer status.Close()

	first := readEnvelope(t, status, KindState)
	var snap session.Snapshot
	if err := json.Unmarshal(first.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != session.StateDisconnected {
		t.Errorf("initial pushed state = %v", snap.State)
	}

	control, _, err := websocket.DefaultDialer.Dial(base+"/ws/control", nil)
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer control.Close()

	if err := control.WriteJSON(map[string]string{"type": "start", "id": "1"}); err != nil {
		t.Fatal(err)
	}
	var ack controlReply
	_ = control.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := control.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "ack" || ack.ID != "1" || ack.Command != "start" {
		t.Fatalf("start reply = %+v", ack)
	}

	f.waitState(t, session.StateConnected)
	f.client.SimulateMessage(conversation.SourceAI, "Welcome to the study.")

	deadline := time.Now().Add(3 * time.Second)
	for {
		env := readEnvelope(t, status, KindState)
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			t.Fatal(err)
		}
		if len(snap.Transcript) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transcript never pushed")
		}
	}
	if got := snap.Transcript[0].String(); got != "ai: Welcome to the study." {
		t.Errorf("transcript line = %q", got)
	}

	f.clock.Advance(6*time.Minute + 5*time.Second)

	if err := control.WriteJSON(map[string]string{"type": "end", "id": "2"}); err != nil {
		t.Fatal(err)
	}
	_ = control.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := control.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "ack" || ack.Command != "end" {
		t.Fatalf("end reply = %+v", ack)
	}
	raw, _ := json.Marshal(ack.Data)
	var outcome session.Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		t.Fatal(err)
	}
	if !outcome.Completed || outcome.RedirectURL != testSurveyURL {
		t.Fatalf("outcome = %+v", outcome)
	}

	f.clock.Advance(session.DefaultRedirectDelay)

	redirect := readEnvelope(t, status, KindRedirect)
	var target map[string]string
	if err := json.Unmarshal(redirect.Data, &target); err != nil {
		t.Fatal(err)
	}
	if target["url"] != testSurveyURL {
		t.Errorf("redirect url = %q", target["url"])
	}
}

func TestControlSocketRejectsUnknown(t *testing.T) {
	f := newFixture(t)
	base := f.listen(t)

	control, _, err := websocket.DefaultDialer.Dial(base+"/ws/control", nil)
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	defer control.Close()

	cases := []struct {
		send    string
		wantErr string
	}{
		{`not json`, "invalid message"},
		{`{"type":"dance"}`, "unknown command"},
		{`{"type":"end"}`, session.ErrNoActiveSession.Error()},
	}
	for _, tc := range cases {
		if err := control.WriteMessage(websocket.TextMessage, []byte(tc.send)); err != nil {
			t.Fatal(err)
		}
		var reply controlReply
		_ = control.SetReadDeadline(time.Now().Add(3 * time.Second))
		if err := control.ReadJSON(&reply); err != nil {
			t.Fatal(err)
		}
		if reply.Type != "error" || reply.Error != tc.wantErr {
			t.Errorf("reply to %s = %+v, want error %q", tc.send, reply, tc.wantErr)
		}
	}
}
