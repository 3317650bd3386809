package models

import (
	"strings"
	"time"
)

// Classification providers.
const (
	ProviderAIStudio = "aiStudio"
	ProviderVertexAI = "vertexAI"
)

// Settings defaults.
const (
	DefaultIntervalSeconds = 180
	DefaultModel           = "gemini-2.5-flash-lite"
	MinIntervalSeconds     = 5
)

// Settings are the user-editable preferences read by the session runtime each cycle.
type Settings struct {
	UpdatedAt           time.Time `json:"updated_at"`
	Model               string    `json:"model"`
	APIKey              string    `json:"api_key,omitempty"`
	Provider            string    `json:"provider"`
	ActiveProfile       string    `json:"active_profile,omitempty"`
	FocusKeywords       []string  `json:"focus_keywords"`
	DistractionKeywords []string  `json:"distraction_keywords"`
	IntervalSeconds     int       `json:"interval_seconds"`
	SlackNudgesEnabled  bool      `json:"slack_nudges_enabled"`
	KeyValidated        bool      `json:"key_validated"`
}

// DefaultSettings returns the settings created on first launch.
func DefaultSettings() Settings {
	return Settings{
		IntervalSeconds:     DefaultIntervalSeconds,
		SlackNudgesEnabled:  true,
		Model:               DefaultModel,
		Provider:            ProviderAIStudio,
		FocusKeywords:       []string{},
		DistractionKeywords: []string{},
	}
}

// HasAPIKey reports whether a non-blank API key is configured.
func (s Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Interval returns the capture interval, clamped to the minimum.
func (s Settings) Interval() time.Duration {
	secs := s.IntervalSeconds
	if secs < MinIntervalSeconds {
		secs = MinIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// Redacted returns a copy safe to serialize to clients.
func (s Settings) Redacted() Settings {
	cp := s
	if cp.HasAPIKey() {
		key := strings.TrimSpace(cp.APIKey)
		if len(key) > 4 {
			cp.APIKey = "****" + key[len(key)-4:]
		} else {
			cp.APIKey = "****"
		}
	}
	return cp
}
