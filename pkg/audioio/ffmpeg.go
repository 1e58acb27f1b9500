package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ffmpeg must survive this long before capture is considered started.
const ffmpegStartupGrace = 250 * time.Millisecond

// ffmpegStopGrace is how long ffmpeg gets to exit after SIGINT.
const ffmpegStopGrace = 1200 * time.Millisecond

// FFmpegSource captures microphone PCM16 through an ffmpeg subprocess.
type FFmpegSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	waitErr  chan error
	streamCh chan AudioChunk
	readDone chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewFFmpegSource creates an ffmpeg-backed source. The process is spawned
// by Start.
func NewFFmpegSource(cfg Config, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	return &FFmpegSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk),
	}
}

// Args returns the ffmpeg command line used for capture.
func (s *FFmpegSource) Args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.cfg.InputFormat,
		"-i", s.cfg.Device,
		"-ac", strconv.Itoa(s.cfg.Channels),
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start spawns ffmpeg and waits briefly to catch immediate failures such as
// a missing device or denied access.
func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.Args()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return ctx.Err()
	case <-time.After(ffmpegStartupGrace):
	}

	s.cmd = cmd
	s.stdout = stdout
	s.stderr = stderr
	s.waitErr = waitErr
	s.streamCh = make(chan AudioChunk, 10)
	s.readDone = make(chan struct{})
	s.running = true

	go s.readLoop(stdout, s.streamCh, s.readDone)

	s.logger.Info("ffmpeg capture started",
		"device", s.cfg.Device,
		"format", s.cfg.InputFormat,
		"sample_rate", s.cfg.SampleRate,
		"pid", cmd.Process.Pid)
	return nil
}

func (s *FFmpegSource) readLoop(r io.Reader, out chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			var chunk AudioChunk
			chunk.FromBytes(buf[:n-n%2], s.cfg.SampleRate, s.cfg.Channels)
			select {
			case out <- chunk:
				s.chunksRead.Add(1)
				s.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				s.overruns.Add(1)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("ffmpeg read failed", "error", err)
			}
			return
		}
	}
}

// Stop interrupts ffmpeg, kills it if it lingers, and closes the stream.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, stdout, stderr, waitErr, readDone := s.cmd, s.stdout, s.stderr, s.waitErr, s.readDone
	s.mu.Unlock()

	_ = cmd.Process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-waitErr:
		if ok {
			stopErr = normalizeExit(err)
		}
	case <-time.After(ffmpegStopGrace):
		_ = cmd.Process.Kill()
		if err, ok := <-waitErr; ok {
			stopErr = normalizeExit(err)
		}
	}

	if err := stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && stopErr == nil {
		stopErr = err
	}
	<-readDone

	if stopErr != nil && stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, strings.TrimSpace(stderr.String()))
	}
	s.logger.Info("ffmpeg capture stopped", "chunks", s.chunksRead.Load(), "overruns", s.overruns.Load())
	return stopErr
}

// normalizeExit treats the exit status from our own interrupt as success.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Read returns the next chunk.
func (s *FFmpegSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.Stream():
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the chunk channel.
func (s *FFmpegSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *FFmpegSource) Config() Config {
	return s.cfg
}

// Name returns "ffmpeg".
func (s *FFmpegSource) Name() string {
	return string(BackendFFmpeg)
}

// Close stops capture permanently.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns capture statistics.
func (s *FFmpegSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(BackendFFmpeg),
	}
}

var _ SourceWithStats = (*FFmpegSource)(nil)
