package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"market-rtc/internal/config"
	"market-rtc/internal/models"
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		SendBuffer:      16,
		TypingTTL:       time.Minute,
		RingingTimeout:  time.Minute,
		CallRetention:   time.Minute,
		UploadRetention: time.Minute,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(testRealtimeConfig(), nil, nil)
	t.Cleanup(e.Stop)
	return e
}

// recvEvent waits for the next event queued on the connection and decodes
// its envelope.
func recvEvent(t *testing.T, c *Conn) models.Envelope {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		var env models.Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Envelope{}
	}
}

// recvEventOfType skips events until one with the wanted name arrives.
func recvEventOfType(t *testing.T, c *Conn, event string) models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.Outbound():
			var env models.Envelope
			require.NoError(t, json.Unmarshal(msg, &env))
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", event)
		}
	}
}

func expectNoEvent(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		t.Fatalf("unexpected event: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func decodeData(t *testing.T, env models.Envelope, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// memoryBackplane fans frames out to every subscribed handler in-process,
// standing in for redis in multi-instance tests. Subscribers receive their
// own frames too; the dispatcher's origin check is what keeps them from
// looping.
type memoryBackplane struct {
	mu       sync.Mutex
	handlers []func(Frame)
}

func (m *memoryBackplane) Publish(_ context.Context, frame Frame) error {
	m.mu.Lock()
	handlers := append([]func(Frame){}, m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
	return nil
}

func (m *memoryBackplane) Subscribe(_ context.Context, handler func(Frame)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return nil
}

func (m *memoryBackplane) Close() error { return nil }

// recordingQueue captures durable notification enqueues.
type recordingQueue struct {
	mu      sync.Mutex
	entries []queueEntry
}

type queueEntry struct {
	Identity string
	Kind     string
	Payload  []byte
}

func (q *recordingQueue) Enqueue(_ context.Context, identity, kind string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, queueEntry{Identity: identity, Kind: kind, Payload: payload})
	return nil
}

func (q *recordingQueue) PendingCount(_ context.Context, identity string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Identity == identity {
			n++
		}
	}
	return n, nil
}

func (q *recordingQueue) all() []queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queueEntry{}, q.entries...)
}
