package audioio

import (
	"context"
	"io"
)

// AudioChunk is a block of interleaved PCM16 samples.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// FromBytes fills the chunk from little-endian PCM16.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the chunk length in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Mono16k returns the chunk as 16 kHz mono PCM16 bytes.
func (c *AudioChunk) Mono16k() []byte {
	samples := c.Samples
	if c.Channels == 2 {
		samples = StereoToMono(samples)
	}
	return SamplesToBytes(Resample(samples, c.SampleRate, TargetSampleRate))
}

// Source captures audio from an input device.
type Source interface {
	// Start begins capture. Chunks are then available via Read or Stream.
	Start(ctx context.Context) error

	// Stop halts capture and closes the stream. Safe to call repeatedly.
	Stop() error

	// Read returns the next chunk, or io.EOF once stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns the chunk channel, closed when the source stops.
	Stream() <-chan AudioChunk

	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources. A closed source cannot restart.
	io.Closer
}

// SourceStats contains capture counters.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
