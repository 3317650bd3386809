package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/focusmate/internal/notify"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header     http.Header
	body       []byte
	statusCode int
	mu         sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

func (m *mockResponseWriter) Header() http.Header {
	return m.header
}

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(statusCode int) {
	m.statusCode = statusCode
}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) GetBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// noFlushWriter does not support streaming.
type noFlushWriter struct {
	http.ResponseWriter
}

// decodeEvents parses every "data:" line written to a client.
func decodeEvents(t *testing.T, body string) []Message {
	t.Helper()
	var out []Message
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m Message
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
		out = append(out, m)
	}
	return out
}

func (s *BroadcasterSuite) TestAddAndRemoveClient() {
	w := newMockResponseWriter()
	client, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)
	s.NotEmpty(client.ID)
	s.Equal(1, s.broadcaster.ClientCount())

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}

	// Removing twice is safe
	s.broadcaster.RemoveClient(client)
}

func (s *BroadcasterSuite) TestAddClientRequiresFlusher() {
	_, err := s.broadcaster.AddClient(noFlushWriter{})
	s.Error(err)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestPublishWritesEnvelope() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Publish("check_added", map[string]string{"label": "work"})

	events := decodeEvents(s.T(), w.GetBody())
	s.Require().Len(events, 1)
	s.Equal("check_added", events[0].Type)
	s.Equal(map[string]interface{}{"label": "work"}, events[0].Data)
}

func (s *BroadcasterSuite) TestBroadcastReachesAllClients() {
	writers := make([]*mockResponseWriter, 3)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := s.broadcaster.AddClient(writers[i])
		s.Require().NoError(err)
	}

	s.broadcaster.Broadcast(map[string]string{"type": "tick"})

	for i, w := range writers {
		s.Contains(w.GetBody(), `data: {"type":"tick"}`, "client %d", i)
	}
}

func (s *BroadcasterSuite) TestBroadcastNoClients() {
	s.broadcaster.Broadcast(map[string]string{"type": "test"})
}

func (s *BroadcasterSuite) TestNotifyPublishesNotification() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	var n notify.Notifier = s.broadcaster
	s.Require().NoError(n.Notify(context.Background(), notify.Nudge()))

	events := decodeEvents(s.T(), w.GetBody())
	s.Require().Len(events, 1)
	s.Equal(TypeNotification, events[0].Type)
	data, ok := events[0].Data.(map[string]interface{})
	s.Require().True(ok)
	s.Equal("Focus Nudge", data["title"])
	s.Equal("nudge", data["kind"])
}

func TestClientUniqueIDs(t *testing.T) {
	b := NewBroadcaster()
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		client, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
		assert.False(t, ids[client.ID], "ID %s should be unique", client.ID)
		ids[client.ID] = true
	}
}

func TestRemoveNonExistentClient(t *testing.T) {
	b := NewBroadcaster()
	client := &Client{ID: "fake-client", Done: make(chan struct{})}

	b.RemoveClient(client)

	select {
	case <-client.Done:
	default:
		t.Error("Done channel should be closed")
	}
}

func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster()
	writers := make([]*mockResponseWriter, 10)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := b.AddClient(writers[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Broadcast(map[string]int{"index": i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, b.ClientCount())
	assert.Len(t, decodeEvents(t, writers[0].GetBody()), 100)
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster()
	b.SetKeepAlive(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.HandleSSE(w, req)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)
	b.Publish("state_changed", map[string]string{"state": "active"})
	require.Eventually(t, func() bool { return strings.Contains(w.GetBody(), ": ping") }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSSE did not return after the request was cancelled")
	}
	assert.Equal(t, 0, b.ClientCount())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := decodeEvents(t, w.GetBody())
	require.Len(t, events, 2)
	assert.Equal(t, TypeConnected, events[0].Type)
	assert.Equal(t, "state_changed", events[1].Type)
}
