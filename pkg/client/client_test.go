package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/focusmate/internal/worker/session"
	"github.com/thebtf/focusmate/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(0, WithBaseURL(server.URL+"/"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_DefaultPort(t *testing.T) {
	t.Setenv("FOCUSMATE_WORKER_PORT", "12345")
	c := New(0)
	assert.Equal(t, "http://127.0.0.1:12345", c.baseURL)

	c = New(4000)
	assert.Equal(t, "http://127.0.0.1:4000", c.baseURL)
}

func TestIsRunning(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, c.IsRunning(context.Background()))

	offline := New(1, WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	assert.False(t, offline.IsRunning(context.Background()))
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		expected string
	}{
		{
			name: "returns version from server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": "1.2.3"})
			},
			expected: "1.2.3",
		},
		{
			name: "returns empty on 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			expected: "",
		},
		{
			name: "returns empty on invalid JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			assert.Equal(t, tt.expected, c.Version(context.Background()))
		})
	}
}

func TestStart_SendsGoal(t *testing.T) {
	var gotGoal string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/session/start", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		gotGoal = req["goal"]
		writeJSON(w, http.StatusOK, session.Snapshot{State: session.StateActive, Session: models.NewSession("s1", req["goal"], time.Now())})
	})

	snap, err := c.Start(context.Background(), "write docs")
	require.NoError(t, err)
	assert.Equal(t, "write docs", gotGoal)
	assert.Equal(t, session.StateActive, snap.State)
	assert.Equal(t, "s1", snap.Session.ID)
}

func TestControl_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPreconditionFailed, map[string]interface{}{
			"error":    "API key missing",
			"snapshot": session.Snapshot{State: session.StateIdle, Alert: session.AlertAPIKey},
		})
	})

	_, err := c.Start(context.Background(), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.StatusCode)
	assert.Equal(t, "API key missing", apiErr.Message)
	require.NotNil(t, apiErr.Snapshot)
	assert.Equal(t, session.AlertAPIKey, apiErr.Snapshot.Alert)
}

func TestPauseStopStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session/pause":
			writeJSON(w, http.StatusOK, session.Snapshot{State: session.StatePaused})
		case "/api/session/stop":
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no current session"})
		case "/api/session":
			writeJSON(w, http.StatusOK, session.Snapshot{State: session.StateActive, Streak: 4})
		}
	})
	ctx := context.Background()

	snap, err := c.Pause(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatePaused, snap.State)

	_, err = c.Stop(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Nil(t, apiErr.Snapshot)

	snap, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Streak)
}
