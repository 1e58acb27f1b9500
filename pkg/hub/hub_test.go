package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

// bareClient registers a client with no socket so tests can read its queue.
func bareClient(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, buffer)}
	if !h.attach(c) {
		t.Fatal("attach failed")
	}
	return c
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func TestPublishEnvelope(t *testing.T) {
	h, _ := newTestHub(t)
	c := bareClient(t, h, 4)

	if err := h.Publish("redirect", map[string]string{"url": "https://example.com"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	m, ok := receive(t, c)
	if !ok {
		t.Fatal("send channel closed")
	}
	var env struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(m.Data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "redirect" || env.Data["url"] != "https://example.com" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestClientCountAndDetach(t *testing.T) {
	h, _ := newTestHub(t)
	a := bareClient(t, h, 4)
	bareClient(t, h, 4)

	if got := h.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	h.detach(a)
	if _, ok := receive(t, a); ok {
		t.Error("detached client channel should be closed")
	}
	if got := h.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestSlowClientDropped(t *testing.T) {
	h, _ := newTestHub(t)
	slow := bareClient(t, h, 1)
	fast := bareClient(t, h, 8)

	for i := 0; i < 3; i++ {
		_ = h.Publish("n", i)
		receive(t, fast)
	}

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d, want slow client dropped", got)
	}

	receive(t, slow)
	if _, ok := receive(t, slow); ok {
		t.Error("slow client channel should be closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h, cancel := newTestHub(t)
	c := bareClient(t, h, 4)
	if !h.IsRunning() {
		t.Error("hub should be running")
	}

	cancel()
	<-h.Done()

	if _, ok := receive(t, c); ok {
		t.Error("client channel should be closed after shutdown")
	}
	if h.IsRunning() {
		t.Error("hub should not be running")
	}

	late := &Client{hub: h, send: make(chan Message, 1)}
	if h.attach(late) {
		t.Error("attach after shutdown should fail")
	}
}
