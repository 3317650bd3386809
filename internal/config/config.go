// Package config provides configuration management for focusmate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultWorkerPort               = 37841
	DefaultMaxConns                 = 4
	DefaultDBDriver                 = "sqlite"
	DefaultCaptureCommand           = "screencapture"
	DefaultImageMaxDimension        = 768
	DefaultJPEGQuality              = 80
	DefaultClassifierTimeoutSeconds = 60
	DefaultInsightTTLHours          = 6
	DefaultNotifier                 = "auto"
	DefaultCooldownPolicy           = "fixed"
	DefaultCooldownMaxSteps         = 4
	DefaultActivityLogSize          = 100
	DefaultStudioBaseURL            = "https://generativelanguage.googleapis.com/v1beta"
	DefaultVertexBaseURL            = "https://aiplatform.googleapis.com/v1"

	dataDirName      = ".focusmate"
	dbFileName       = "focusmate.db"
	settingsFileName = "settings.json"
	profilesFileName = "profiles.yaml"
)

// Config holds process-level configuration. User-facing preferences live in the store.
type Config struct {
	DBDriver                 string `json:"FOCUSMATE_DB_DRIVER"`
	DBPath                   string `json:"FOCUSMATE_DB_PATH"`
	DBDSN                    string `json:"FOCUSMATE_DB_DSN"`
	CaptureCommand           string `json:"FOCUSMATE_CAPTURE_COMMAND"`
	StudioBaseURL            string `json:"FOCUSMATE_STUDIO_BASE_URL"`
	VertexBaseURL            string `json:"FOCUSMATE_VERTEX_BASE_URL"`
	Notifier                 string `json:"FOCUSMATE_NOTIFIER"`
	CooldownPolicy           string `json:"FOCUSMATE_COOLDOWN_POLICY"`
	LogLevel                 string `json:"FOCUSMATE_LOG_LEVEL"`
	WorkerPort               int    `json:"FOCUSMATE_WORKER_PORT"`
	MaxConns                 int    `json:"FOCUSMATE_DB_MAX_CONNS"`
	ImageMaxDimension        int    `json:"FOCUSMATE_IMAGE_MAX_DIMENSION"`
	JPEGQuality              int    `json:"FOCUSMATE_JPEG_QUALITY"`
	ClassifierTimeoutSeconds int    `json:"FOCUSMATE_CLASSIFIER_TIMEOUT_SECONDS"`
	InsightTTLHours          int    `json:"FOCUSMATE_INSIGHT_TTL_HOURS"`
	CooldownMaxSteps         int    `json:"FOCUSMATE_COOLDOWN_MAX_STEPS"`
	ActivityLogSize          int    `json:"FOCUSMATE_ACTIVITY_LOG_SIZE"`
}

var (
	global   *Config
	globalMu sync.RWMutex
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerPort:               DefaultWorkerPort,
		DBDriver:                 DefaultDBDriver,
		DBPath:                   DBPath(),
		MaxConns:                 DefaultMaxConns,
		CaptureCommand:           DefaultCaptureCommand,
		ImageMaxDimension:        DefaultImageMaxDimension,
		JPEGQuality:              DefaultJPEGQuality,
		ClassifierTimeoutSeconds: DefaultClassifierTimeoutSeconds,
		StudioBaseURL:            DefaultStudioBaseURL,
		VertexBaseURL:            DefaultVertexBaseURL,
		InsightTTLHours:          DefaultInsightTTLHours,
		Notifier:                 DefaultNotifier,
		CooldownPolicy:           DefaultCooldownPolicy,
		CooldownMaxSteps:         DefaultCooldownMaxSteps,
		ActivityLogSize:          DefaultActivityLogSize,
		LogLevel:                 "info",
	}
}

// DataDir returns the data directory (~/.focusmate).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFileName)
}

// ProfilesPath returns the keyword profiles file path.
func ProfilesPath() string {
	return filepath.Join(DataDir(), profilesFileName)
}

// EnsureDataDir creates the data directory if needed.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("ensure settings: %w", err)
	}
	return nil
}

// Load reads the settings file, applies environment overrides and clamps values.
// A missing or malformed file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		fileCfg := *cfg
		if jsonErr := json.Unmarshal(data, &fileCfg); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		} else {
			cfg = &fileCfg
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

// Get returns the cached global config, loading it on first use.
func Get() *Config {
	globalMu.RLock()
	cfg := global
	globalMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	loaded, err := Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		loaded = Default()
	}

	globalMu.Lock()
	if global == nil {
		global = loaded
	}
	cfg = global
	globalMu.Unlock()
	return cfg
}

// Reload re-reads the settings file and replaces the cached global config.
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
	return cfg, nil
}

// GetWorkerPort returns the worker port, preferring FOCUSMATE_WORKER_PORT.
func GetWorkerPort() int {
	if v := os.Getenv("FOCUSMATE_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

// IsPostgres reports whether the store should use the Postgres backend.
func (c *Config) IsPostgres() bool {
	return c.DBDriver == "postgres" || strings.HasPrefix(c.DBDSN, "postgres://") || strings.HasPrefix(c.DBDSN, "postgresql://")
}

func (c *Config) normalize() {
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		c.WorkerPort = DefaultWorkerPort
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.DBDriver == "" {
		c.DBDriver = DefaultDBDriver
	}
	if c.DBPath == "" {
		c.DBPath = DBPath()
	}
	if c.ImageMaxDimension < 64 {
		c.ImageMaxDimension = DefaultImageMaxDimension
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.ClassifierTimeoutSeconds <= 0 {
		c.ClassifierTimeoutSeconds = DefaultClassifierTimeoutSeconds
	}
	if c.InsightTTLHours <= 0 {
		c.InsightTTLHours = DefaultInsightTTLHours
	}
	if c.CooldownMaxSteps <= 0 {
		c.CooldownMaxSteps = DefaultCooldownMaxSteps
	}
	if c.ActivityLogSize <= 0 {
		c.ActivityLogSize = DefaultActivityLogSize
	}
	if c.Notifier == "" {
		c.Notifier = DefaultNotifier
	}
	if c.CooldownPolicy == "" {
		c.CooldownPolicy = DefaultCooldownPolicy
	}
	if c.StudioBaseURL == "" {
		c.StudioBaseURL = DefaultStudioBaseURL
	}
	if c.VertexBaseURL == "" {
		c.VertexBaseURL = DefaultVertexBaseURL
	}
	if c.CaptureCommand == "" {
		c.CaptureCommand = DefaultCaptureCommand
	}
}

// applyEnv overrides file values with FOCUSMATE_* environment variables.
func applyEnv(c *Config) {
	envString("FOCUSMATE_DB_DRIVER", &c.DBDriver)
	envString("FOCUSMATE_DB_PATH", &c.DBPath)
	envString("FOCUSMATE_DB_DSN", &c.DBDSN)
	envString("FOCUSMATE_CAPTURE_COMMAND", &c.CaptureCommand)
	envString("FOCUSMATE_STUDIO_BASE_URL", &c.StudioBaseURL)
	envString("FOCUSMATE_VERTEX_BASE_URL", &c.VertexBaseURL)
	envString("FOCUSMATE_NOTIFIER", &c.Notifier)
	envString("FOCUSMATE_COOLDOWN_POLICY", &c.CooldownPolicy)
	envString("FOCUSMATE_LOG_LEVEL", &c.LogLevel)
	envInt("FOCUSMATE_WORKER_PORT", &c.WorkerPort)
	envInt("FOCUSMATE_DB_MAX_CONNS", &c.MaxConns)
	envInt("FOCUSMATE_IMAGE_MAX_DIMENSION", &c.ImageMaxDimension)
	envInt("FOCUSMATE_JPEG_QUALITY", &c.JPEGQuality)
	envInt("FOCUSMATE_CLASSIFIER_TIMEOUT_SECONDS", &c.ClassifierTimeoutSeconds)
	envInt("FOCUSMATE_INSIGHT_TTL_HOURS", &c.InsightTTLHours)
	envInt("FOCUSMATE_COOLDOWN_MAX_STEPS", &c.CooldownMaxSteps)
	envInt("FOCUSMATE_ACTIVITY_LOG_SIZE", &c.ActivityLogSize)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric environment override")
		return
	}
	*dst = n
}
