package audioio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicestudy/internal/log"
)

func TestMicrophone(t *testing.T) {
	t.Run("frames are 16k mono", func(t *testing.T) {
		cfg := testConfig(BackendMock)
		cfg.SampleRate = 48000
		cfg.Channels = 2
		mic := NewMicrophone(cfg, log.Discard())

		h, err := mic.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer h.Release()

		select {
		case frame := <-h.Frames():
			// 5ms at 16 kHz mono = 80 samples.
			if len(frame) != 160 {
				t.Errorf("frame bytes = %d, want 160", len(frame))
			}
		case <-time.After(time.Second):
			t.Fatal("no frame")
		}
		if !mic.Live() {
			t.Error("microphone should be live")
		}
	})

	t.Run("release closes frames", func(t *testing.T) {
		mic := NewMicrophone(testConfig(BackendMock), log.Discard())
		h, err := mic.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Release(); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if err := h.Release(); err != nil {
			t.Errorf("second Release() error = %v", err)
		}
		if mic.Live() {
			t.Error("microphone should not be live after release")
		}

		deadline := time.After(time.Second)
		for {
			select {
			case _, ok := <-h.Frames():
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("frames not closed")
			}
		}
	})

	t.Run("acquire supersedes live handle", func(t *testing.T) {
		var sources []*MockSource
		mic := NewMicrophoneWithFactory(func() (Source, error) {
			m := NewMockSource(testConfig(BackendMock), log.Discard())
			sources = append(sources, m)
			return m, nil
		}, log.Discard())

		first, err := mic.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		second, err := mic.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer second.Release()

		if sources[0].Stats().Running {
			t.Error("first source should be stopped")
		}
		if !sources[1].Stats().Running {
			t.Error("second source should be running")
		}
		_ = first.Release()
		if !mic.Live() {
			t.Error("releasing the superseded handle must not clear the live one")
		}
	})

	t.Run("denied", func(t *testing.T) {
		denied := errors.New("permission denied")
		mic := NewMicrophoneWithFactory(func() (Source, error) {
			return NewMockSource(testConfig(BackendMock), log.Discard(), WithStartError(denied)), nil
		}, log.Discard())

		if _, err := mic.Acquire(context.Background()); !errors.Is(err, denied) {
			t.Fatalf("Acquire() = %v, want %v", err, denied)
		}
		if mic.Live() {
			t.Error("no handle should be live")
		}
	})
}
