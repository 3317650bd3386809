// Package client talks to a running focusmate worker over its local HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/focusmate/internal/config"
	"github.com/thebtf/focusmate/internal/worker/session"
)

// DefaultTimeout bounds control requests. Status lines use StatusTimeout.
const (
	DefaultTimeout = 5 * time.Second
	StatusTimeout  = 200 * time.Millisecond
)

// APIError is a non-2xx response from the worker.
type APIError struct {
	Snapshot   *session.Snapshot
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("worker returned %d: %s", e.StatusCode, e.Message)
}

// Client is a worker API client.
type Client struct {
	http    *http.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL points the client at baseURL instead of 127.0.0.1:<port>.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// New creates a Client for the worker on port. A zero port uses the configured worker port.
func New(port int, opts ...Option) *Client {
	if port <= 0 {
		port = config.GetWorkerPort()
	}
	c := &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRunning reports whether the worker answers its health check.
func (c *Client) IsRunning(ctx context.Context) bool {
	var resp struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/api/health", nil, &resp) == nil && resp.Status != ""
}

// Version returns the worker version, or "" when it cannot be determined.
func (c *Client) Version(ctx context.Context) string {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &resp); err != nil {
		return ""
	}
	return resp.Version
}

// Status returns the runtime snapshot.
func (c *Client) Status(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/session", nil, &snap)
	return snap, err
}

// Start starts a session with goal, or resumes the paused one.
func (c *Client) Start(ctx context.Context, goal string) (session.Snapshot, error) {
	return c.control(ctx, "/api/session/start", map[string]string{"goal": goal})
}

// Pause pauses the active session.
func (c *Client) Pause(ctx context.Context) (session.Snapshot, error) {
	return c.control(ctx, "/api/session/pause", nil)
}

// Stop completes the current session.
func (c *Client) Stop(ctx context.Context) (session.Snapshot, error) {
	return c.control(ctx, "/api/session/stop", nil)
}

func (c *Client) control(ctx context.Context, path string, body interface{}) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodPost, path, body, &snap)
	return snap, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Snapshot *session.Snapshot `json:"snapshot"`
			Error    string            `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			if payload.Error != "" {
				apiErr.Message = payload.Error
			}
			apiErr.Snapshot = payload.Snapshot
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
