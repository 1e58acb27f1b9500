package conversation

import (
	"context"
	"sync"

	"github.com/teslashibe/go-voicestudy/pkg/session"
)

// Mock is a mock implementation of session.Client for testing.
type Mock struct {
	mu sync.RWMutex

	// State
	connected bool
	sink      session.EventSink

	// Configurable behavior
	StartSessionFunc func(ctx context.Context, req session.Request) error
	EndSessionFunc   func(ctx context.Context) error

	// AutoConnect reports Connected from StartSession. Defaults to true.
	AutoConnect bool

	// Captured calls for assertions
	Requests   []session.Request
	StartCalls int
	EndCalls   int
}

// NewMock creates a new Mock client.
func NewMock() *Mock {
	return &Mock{AutoConnect: true}
}

// StartSession implements session.Client.
func (m *Mock) StartSession(ctx context.Context, req session.Request, sink session.EventSink) error {
	m.mu.Lock()
	m.StartCalls++
	m.Requests = append(m.Requests, req)
	fn := m.StartSessionFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, req); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.connected = true
	m.sink = sink
	auto := m.AutoConnect
	m.mu.Unlock()

	if auto {
		sink.Connected()
	}
	return nil
}

// EndSession implements session.Client. The bound sink receives
// Disconnected.
func (m *Mock) EndSession(ctx context.Context) error {
	m.mu.Lock()
	m.EndCalls++
	fn := m.EndSessionFunc
	sink := m.sink
	connected := m.connected
	m.connected = false
	m.sink = nil
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	if !connected {
		return ErrNotConnected
	}
	if sink != nil {
		sink.Disconnected()
	}
	return nil
}

// IsConnected reports whether a session is live.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) currentSink() session.EventSink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sink
}

// SimulateConnected delivers Connected to the live session.
func (m *Mock) SimulateConnected() {
	if s := m.currentSink(); s != nil {
		s.Connected()
	}
}

// SimulateMessage delivers a transcript message.
func (m *Mock) SimulateMessage(source, text string) {
	if s := m.currentSink(); s != nil {
		s.Message(session.Message{Source: source, Text: text})
	}
}

// SimulateDisconnect ends the session from the remote side.
func (m *Mock) SimulateDisconnect() {
	m.mu.Lock()
	s := m.sink
	m.sink = nil
	m.connected = false
	m.mu.Unlock()
	if s != nil {
		s.Disconnected()
	}
}

// SimulateError fails the live session with err.
func (m *Mock) SimulateError(err error) {
	m.mu.Lock()
	s := m.sink
	m.sink = nil
	m.connected = false
	m.mu.Unlock()
	if s != nil {
		s.Failed(err)
	}
}

// LastRequest returns the most recent StartSession request.
func (m *Mock) LastRequest() (session.Request, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.Requests) == 0 {
		return session.Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

var _ session.Client = (*Mock)(nil)
