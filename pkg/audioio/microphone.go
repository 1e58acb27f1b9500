package audioio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-voicestudy/pkg/session"
)

// SourceFactory builds a fresh, unstarted Source per acquisition.
type SourceFactory func() (Source, error)

// Microphone hands out exclusive capture handles backed by a Source.
// Frames are converted to 16 kHz mono PCM16.
type Microphone struct {
	newSource SourceFactory
	logger    *slog.Logger

	mu   sync.Mutex
	live *micHandle
}

// NewMicrophone creates a microphone for cfg.
func NewMicrophone(cfg Config, logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return NewMicrophoneWithFactory(func() (Source, error) {
		return NewSource(cfg, logger)
	}, logger)
}

// NewMicrophoneWithFactory creates a microphone with a custom source factory.
func NewMicrophoneWithFactory(f SourceFactory, logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{newSource: f, logger: logger}
}

// Acquire starts capture. Any handle still live is released first so that
// at most one capture runs at a time.
func (m *Microphone) Acquire(ctx context.Context) (session.MicHandle, error) {
	m.mu.Lock()
	stale := m.live
	m.live = nil
	m.mu.Unlock()
	if stale != nil {
		m.logger.Warn("releasing stale microphone handle")
		_ = stale.Release()
	}

	src, err := m.newSource()
	if err != nil {
		return nil, fmt.Errorf("create audio source: %w", err)
	}
	if err := src.Start(ctx); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("start %s capture: %w", src.Name(), err)
	}

	h := &micHandle{
		mic:    m,
		src:    src,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go h.pump()

	m.mu.Lock()
	m.live = h
	m.mu.Unlock()

	m.logger.Info("microphone acquired", "backend", src.Name())
	return h, nil
}

// Live reports whether a handle is currently held.
func (m *Microphone) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live != nil
}

func (m *Microphone) forget(h *micHandle) {
	m.mu.Lock()
	if m.live == h {
		m.live = nil
	}
	m.mu.Unlock()
}

type micHandle struct {
	mic    *Microphone
	src    Source
	frames chan []byte
	done   chan struct{}

	once   sync.Once
	relErr error
}

func (h *micHandle) pump() {
	defer close(h.frames)
	for {
		select {
		case <-h.done:
			return
		case chunk, ok := <-h.src.Stream():
			if !ok {
				return
			}
			select {
			case h.frames <- chunk.Mono16k():
			case <-h.done:
				return
			default:
				// Consumer is behind; drop rather than stall capture.
			}
		}
	}
}

func (h *micHandle) Frames() <-chan []byte {
	return h.frames
}

func (h *micHandle) Release() error {
	h.once.Do(func() {
		close(h.done)
		err := h.src.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			h.relErr = err
		}
		h.mic.forget(h)
		h.mic.logger.Info("microphone released", "backend", h.src.Name())
	})
	return h.relErr
}

var _ session.Microphone = (*Microphone)(nil)
