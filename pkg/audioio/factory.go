package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// NewSource creates a capture source for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendFFmpeg:
		return NewFFmpegSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// AvailableBackends lists the backends usable on this machine.
func AvailableBackends(cfg Config) []Backend {
	backends := []Backend{BackendMock}
	command := cfg.Command
	if command == "" {
		command = "ffmpeg"
	}
	if _, err := exec.LookPath(command); err == nil {
		backends = append(backends, BackendFFmpeg)
	}
	return backends
}
