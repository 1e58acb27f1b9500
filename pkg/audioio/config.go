// Package audioio captures microphone audio for a conversation session.
//
// Backends:
//   - ffmpeg: spawns ffmpeg and reads raw PCM16 from its stdout
//   - mock: synthetic audio for tests and machines without a microphone
package audioio

import (
	"fmt"
	"time"
)

// Backend names an audio capture backend.
type Backend string

const (
	// BackendFFmpeg captures through an ffmpeg subprocess.
	BackendFFmpeg Backend = "ffmpeg"
	// BackendMock generates audio in-process.
	BackendMock Backend = "mock"
)

// TargetSampleRate is the rate the conversation client streams at.
const TargetSampleRate = 16000

// Config holds audio capture configuration.
type Config struct {
	// Backend selects the capture implementation.
	Backend Backend `json:"backend"`

	// SampleRate is the capture rate in Hz. Default 16000.
	SampleRate int `json:"sample_rate"`

	// Channels is the number of captured channels. Default 1.
	Channels int `json:"channels"`

	// BufferDuration is the length of each delivered chunk. Default 100ms.
	BufferDuration time.Duration `json:"buffer_duration"`

	// Device is the backend-specific input, e.g. "default" for pulse or
	// "hw:1,0" for alsa.
	Device string `json:"device"`

	// InputFormat is the ffmpeg demuxer (-f), e.g. "pulse", "alsa",
	// "avfoundation".
	InputFormat string `json:"input_format"`

	// Command is the ffmpeg executable. Default "ffmpeg".
	Command string `json:"command"`
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendFFmpeg,
		SampleRate:     TargetSampleRate,
		Channels:       1,
		BufferDuration: 100 * time.Millisecond,
		Device:         "default",
		InputFormat:    "pulse",
		Command:        "ffmpeg",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per chunk.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the byte size of one chunk of PCM16.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
