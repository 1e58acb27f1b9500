package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENT_ID", "")
	t.Setenv("XI_API_KEY", "")
	t.Setenv("TOKEN_ENDPOINT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.MinDuration != 6*time.Minute {
		t.Errorf("MinDuration = %v, want 6m", cfg.MinDuration)
	}
	if cfg.RedirectDelay != 2*time.Second {
		t.Errorf("RedirectDelay = %v, want 2s", cfg.RedirectDelay)
	}
	if cfg.SurveyURL != DefaultSurveyURL {
		t.Errorf("SurveyURL = %q", cfg.SurveyURL)
	}
	if !cfg.AllowAgentOverride {
		t.Error("AllowAgentOverride should default to true")
	}
	if cfg.ConnectionType != "websocket" {
		t.Errorf("ConnectionType = %q", cfg.ConnectionType)
	}
	if cfg.TokenEndpoint != "" {
		t.Errorf("TokenEndpoint = %q, want empty", cfg.TokenEndpoint)
	}
	if cfg.Audio.Backend != "ffmpeg" || cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Addr() != ":3000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("AGENT_ID", " agent_123 ")
	t.Setenv("XI_API_KEY", "sk_test")
	t.Setenv("PORT", "8080")
	t.Setenv("MIN_DURATION", "90s")
	t.Setenv("ALLOW_AGENT_OVERRIDE", "false")
	t.Setenv("AUDIO_BACKEND", "mock")
	t.Setenv("TOKEN_ENDPOINT", " http://kiosk-host:3000/api/signed-url ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AgentID != "agent_123" {
		t.Errorf("AgentID = %q, want trimmed value", cfg.AgentID)
	}
	if cfg.APIKey != "sk_test" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MinDuration != 90*time.Second {
		t.Errorf("MinDuration = %v, want 90s", cfg.MinDuration)
	}
	if cfg.AllowAgentOverride {
		t.Error("AllowAgentOverride should be false")
	}
	if cfg.Audio.Backend != "mock" {
		t.Errorf("Audio.Backend = %q", cfg.Audio.Backend)
	}
	if cfg.TokenEndpoint != "http://kiosk-host:3000/api/signed-url" {
		t.Errorf("TokenEndpoint = %q", cfg.TokenEndpoint)
	}
	if got := cfg.MissingSecrets(); len(got) != 0 {
		t.Errorf("MissingSecrets() = %v, want none", got)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("AGENT_ID", "")
	t.Setenv("XI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "voicestudy.yaml")
	body := "port: 4000\nredirect_delay: 500ms\naudio:\n  device: hw:1\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.RedirectDelay != 500*time.Millisecond {
		t.Errorf("RedirectDelay = %v", cfg.RedirectDelay)
	}
	if cfg.Audio.Device != "hw:1" {
		t.Errorf("Audio.Device = %q", cfg.Audio.Device)
	}
	if cfg.Audio.InputFormat != "pulse" {
		t.Errorf("Audio.InputFormat = %q, want default", cfg.Audio.InputFormat)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:              3000,
			SurveyURL:         DefaultSurveyURL,
			ElevenLabsBaseURL: DefaultElevenLabsBaseURL,
			MinDuration:       DefaultMinDuration,
			RedirectDelay:     DefaultRedirectDelay,
			CloseTimeout:      DefaultCloseTimeout,
			ConnectionType:    "websocket",
			Audio:             AudioConfig{Backend: "mock", SampleRate: 16000},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"negative min", func(c *Config) { c.MinDuration = -time.Second }, "min_duration"},
		{"zero close timeout", func(c *Config) { c.CloseTimeout = 0 }, "close_timeout"},
		{"relative survey url", func(c *Config) { c.SurveyURL = "/survey" }, "survey_url"},
		{"unknown connection", func(c *Config) { c.ConnectionType = "sip" }, "connection_type"},
		{"webrtc connection", func(c *Config) { c.ConnectionType = "webrtc" }, "connection_type"},
		{"token endpoint", func(c *Config) { c.TokenEndpoint = "http://localhost:3000/api/signed-url" }, ""},
		{"relative token endpoint", func(c *Config) { c.TokenEndpoint = "/api/signed-url" }, "token_endpoint"},
		{"websocket token endpoint", func(c *Config) { c.TokenEndpoint = "ws://localhost:3000/x" }, "token_endpoint"},
		{"unknown backend", func(c *Config) { c.Audio.Backend = "alsa" }, "audio.backend"},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestMissingSecrets(t *testing.T) {
	cfg := Config{}
	got := cfg.MissingSecrets()
	if len(got) != 2 || got[0] != "AGENT_ID" || got[1] != "XI_API_KEY" {
		t.Errorf("MissingSecrets() = %v", got)
	}
}
