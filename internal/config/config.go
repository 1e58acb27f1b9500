// Package config loads voicestudy configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultPort              = 3000
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultSurveyURL         = "https://forms.pelagohealth.com/to/HeWbfjHj"
	DefaultMinDuration       = 6 * time.Minute
	DefaultRedirectDelay     = 2 * time.Second
	DefaultCloseTimeout      = 5 * time.Second
	DefaultConnectionType    = "websocket"
)

// Config is the process-wide configuration. It is built once at startup and
// passed explicitly to the components that need it.
type Config struct {
	AgentID            string `mapstructure:"agent_id"`
	APIKey             string `mapstructure:"xi_api_key"`
	AllowAgentOverride bool   `mapstructure:"allow_agent_override"`
	ElevenLabsBaseURL  string `mapstructure:"elevenlabs_base_url"`

	// TokenEndpoint, when set, makes the session controller fetch signed
	// URLs from another voicestudy server instead of ElevenLabs directly.
	TokenEndpoint string `mapstructure:"token_endpoint"`

	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
	LogLevel  string `mapstructure:"log_level"`

	SurveyURL     string        `mapstructure:"survey_url"`
	MinDuration   time.Duration `mapstructure:"min_duration"`
	RedirectDelay time.Duration `mapstructure:"redirect_delay"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout"`

	ConnectionType string      `mapstructure:"connection_type"`
	Audio          AudioConfig `mapstructure:"audio"`
}

// AudioConfig selects the microphone backend.
type AudioConfig struct {
	Backend     string `mapstructure:"backend"`
	Device      string `mapstructure:"device"`
	InputFormat string `mapstructure:"input_format"`
	SampleRate  int    `mapstructure:"sample_rate"`
	Command     string `mapstructure:"command"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables are used.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent_id", "")
	v.SetDefault("xi_api_key", "")
	v.SetDefault("allow_agent_override", true)
	v.SetDefault("elevenlabs_base_url", DefaultElevenLabsBaseURL)
	v.SetDefault("token_endpoint", "")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("static_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("survey_url", DefaultSurveyURL)
	v.SetDefault("min_duration", DefaultMinDuration.String())
	v.SetDefault("redirect_delay", DefaultRedirectDelay.String())
	v.SetDefault("close_timeout", DefaultCloseTimeout.String())
	v.SetDefault("connection_type", DefaultConnectionType)
	v.SetDefault("audio.backend", "ffmpeg")
	v.SetDefault("audio.device", "default")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.command", "ffmpeg")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.AgentID = strings.TrimSpace(cfg.AgentID)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.TokenEndpoint = strings.TrimSpace(cfg.TokenEndpoint)
	cfg.ConnectionType = strings.ToLower(strings.TrimSpace(cfg.ConnectionType))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields the service cannot run without.
// Vendor secrets are not checked here; see MissingSecrets.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("min_duration must not be negative, got %s", c.MinDuration))
	}
	if c.RedirectDelay < 0 {
		errs = append(errs, fmt.Errorf("redirect_delay must not be negative, got %s", c.RedirectDelay))
	}
	if c.CloseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("close_timeout must be positive, got %s", c.CloseTimeout))
	}
	if u, err := url.Parse(c.SurveyURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("survey_url must be an absolute URL, got %q", c.SurveyURL))
	}
	if u, err := url.Parse(c.ElevenLabsBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("elevenlabs_base_url must be an absolute URL, got %q", c.ElevenLabsBaseURL))
	}
	if c.TokenEndpoint != "" {
		if u, err := url.Parse(c.TokenEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("token_endpoint must be an http(s) URL, got %q", c.TokenEndpoint))
		}
	}
	if c.ConnectionType != DefaultConnectionType {
		errs = append(errs, fmt.Errorf("connection_type must be websocket, got %q", c.ConnectionType))
	}
	switch c.Audio.Backend {
	case "ffmpeg", "mock":
	default:
		errs = append(errs, fmt.Errorf("audio.backend must be ffmpeg or mock, got %q", c.Audio.Backend))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	return errors.Join(errs...)
}

// MissingSecrets lists the environment variables the token endpoint needs
// but that are unset. The service still starts; requests fail with 500.
func (c *Config) MissingSecrets() []string {
	var missing []string
	if c.AgentID == "" {
		missing = append(missing, "AGENT_ID")
	}
	if c.APIKey == "" {
		missing = append(missing, "XI_API_KEY")
	}
	return missing
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
