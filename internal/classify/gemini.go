package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/internal/activity"
	"github.com/thebtf/focusmate/internal/privacy"
	"github.com/thebtf/focusmate/pkg/models"
)

// Endpoint defaults.
const (
	DefaultStudioBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultVertexBaseURL = "https://aiplatform.googleapis.com/v1"
	DefaultTimeout       = 60 * time.Second

	maxLoggedBody = 2000
)

// GeminiClient calls the Gemini generateContent REST endpoint on AI Studio or Vertex AI.
type GeminiClient struct {
	httpClient    *http.Client
	activity      *activity.Log
	studioBaseURL string
	vertexBaseURL string
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURLs overrides the provider endpoints.
func WithBaseURLs(studio, vertex string) GeminiOption {
	return func(c *GeminiClient) {
		if studio != "" {
			c.studioBaseURL = strings.TrimSuffix(studio, "/")
		}
		if vertex != "" {
			c.vertexBaseURL = strings.TrimSuffix(vertex, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) GeminiOption {
	return func(c *GeminiClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithActivityLog records API failures in the user-visible activity log.
func WithActivityLog(l *activity.Log) GeminiOption {
	return func(c *GeminiClient) { c.activity = l }
}

// NewGeminiClient creates a client with default endpoints.
func NewGeminiClient(opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		studioBaseURL: DefaultStudioBaseURL,
		vertexBaseURL: DefaultVertexBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func temperature(v float64) *float64 { return &v }

// Classify sends the image with a system prompt built from the request keywords and goal.
func (c *GeminiClient) Classify(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return Result{}, ErrAPIKeyMissing
	}
	if len(req.Image) == 0 {
		return Result{}, newError(KindOther, 0, errors.New("empty image"))
	}

	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: SystemPrompt(req.FocusKeywords, req.DistractionKeywords, req.Goal)}}},
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(req.Image)}},
				{Text: userInstruction},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      temperature(0.1),
			ResponseMimeType: "application/json",
		},
	}

	text, err := c.generate(ctx, body, req.APIKey, req.Model, req.Provider)
	if err != nil {
		return Result{}, err
	}
	res, err := ParseResult(text)
	if err != nil {
		c.record(activity.LevelError, "Failed to parse classification", privacy.Redact(text, req.APIKey))
		return Result{}, err
	}
	log.Debug().
		Str("label", string(res.Label)).
		Str("category", string(res.Category)).
		Float64("confidence", res.Confidence).
		Msg("Screenshot classified")
	return res, nil
}

// GenerateText runs a plain text prompt and returns the first candidate.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt, apiKey, model, provider string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrAPIKeyMissing
	}
	body := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: temperature(0.7)},
	}
	text, err := c.generate(ctx, body, apiKey, model, provider)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// ValidateKey makes a minimal one-token request to verify the key.
func (c *GeminiClient) ValidateKey(ctx context.Context, apiKey, model, provider string) error {
	if strings.TrimSpace(apiKey) == "" {
		return ErrAPIKeyMissing
	}
	body := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: "Test"}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: 1},
	}
	_, err := c.post(ctx, body, apiKey, model, provider)
	return err
}

// EndpointURL returns the generateContent URL for provider and model.
func (c *GeminiClient) EndpointURL(model, provider, apiKey string) string {
	if model == "" {
		model = models.DefaultModel
	}
	base := c.studioBaseURL + "/models/"
	if provider == models.ProviderVertexAI {
		base = c.vertexBaseURL + "/publishers/google/models/"
	}
	return base + url.PathEscape(model) + ":generateContent?key=" + url.QueryEscape(apiKey)
}

func (c *GeminiClient) generate(ctx context.Context, body generateRequest, apiKey, model, provider string) (string, error) {
	data, err := c.post(ctx, body, apiKey, model, provider)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", newError(KindMalformed, 0, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		c.record(activity.LevelError, "Invalid response format", truncate(string(data)))
		return "", newError(KindMalformed, 0, errors.New("response has no candidates"))
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (c *GeminiClient) post(ctx context.Context, body generateRequest, apiKey, model, provider string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(KindOther, 0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EndpointURL(model, provider, apiKey), bytes.NewReader(payload))
	if err != nil {
		return nil, newError(KindOther, 0, errors.New(privacy.RedactError(err, apiKey)))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which carries the key
		msg := privacy.RedactError(err, apiKey)
		c.record(activity.LevelError, "Network request failed", fmt.Sprintf("%s (body %d bytes)", msg, len(payload)))
		return nil, newError(KindNetwork, 0, errors.New(msg))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Int("requestBytes", len(payload)).
		Dur("elapsed", time.Since(start)).
		Msg("Gemini response")

	if resp.StatusCode != http.StatusOK {
		detail := truncate(privacy.Redact(string(data), apiKey))
		c.record(activity.LevelError, fmt.Sprintf("API error (status %d)", resp.StatusCode), detail)
		return nil, newError(kindForStatus(resp.StatusCode, string(data)), resp.StatusCode, fmt.Errorf("api error: %s", detail))
	}
	return data, nil
}

func kindForStatus(status int, body string) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusBadRequest && (strings.Contains(body, "API_KEY_INVALID") || strings.Contains(body, "API key not valid")):
		// Gemini reports invalid keys as 400
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindNetwork
	default:
		return KindOther
	}
}

func (c *GeminiClient) record(level activity.Level, message, details string) {
	if c.activity == nil {
		return
	}
	c.activity.Add(level, activity.SourceClassifier, message, details)
}

// truncate keeps the head and tail of s, cutting on rune boundaries.
func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	head := maxLoggedBody / 2
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - maxLoggedBody/2
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	return s[:head] + fmt.Sprintf("\n... [TRUNCATED %d bytes] ...\n", tail-head) + s[tail:]
}
