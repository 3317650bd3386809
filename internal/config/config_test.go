package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(4, cfg.MaxConns)
	s.Equal(768, cfg.ImageMaxDimension)
	s.Equal(80, cfg.JPEGQuality)
	s.Equal(6, cfg.InsightTTLHours)
	s.Equal("fixed", cfg.CooldownPolicy)
	s.Equal("auto", cfg.Notifier)
	s.Equal(100, cfg.ActivityLogSize)
	s.False(cfg.IsPostgres())
}

func (s *ConfigSuite) TestPaths() {
	s.Equal(filepath.Join(s.tempDir, ".focusmate"), DataDir())
	s.Contains(DBPath(), "focusmate.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(ProfilesPath(), "profiles.yaml")
}

// TestEnsureSettings tests settings file creation.
func (s *ConfigSuite) TestEnsureSettings() {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(EnsureSettings())

	info, err := os.Stat(SettingsPath())
	s.NoError(err)
	s.False(info.IsDir())

	// Second call should not error (file exists)
	s.NoError(EnsureSettings())
}

func (s *ConfigSuite) TestEnsureAll() {
	s.Require().NoError(EnsureAll())

	_, err := os.Stat(DataDir())
	s.NoError(err)
	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		check    func(*Config)
		name     string
		settings string
	}{
		{
			name:     "no settings file",
			settings: "",
			check: func(c *Config) {
				s.Equal(DefaultWorkerPort, c.WorkerPort)
			},
		},
		{
			name:     "custom port and quality",
			settings: `{"FOCUSMATE_WORKER_PORT": 40000, "FOCUSMATE_JPEG_QUALITY": 60}`,
			check: func(c *Config) {
				s.Equal(40000, c.WorkerPort)
				s.Equal(60, c.JPEGQuality)
				s.Equal(DefaultImageMaxDimension, c.ImageMaxDimension)
			},
		},
		{
			name:     "postgres dsn",
			settings: `{"FOCUSMATE_DB_DSN": "postgres://u:p@localhost/focus"}`,
			check: func(c *Config) {
				s.True(c.IsPostgres())
			},
		},
		{
			name:     "out of range values clamp to defaults",
			settings: `{"FOCUSMATE_WORKER_PORT": 99999, "FOCUSMATE_JPEG_QUALITY": 0, "FOCUSMATE_IMAGE_MAX_DIMENSION": 10}`,
			check: func(c *Config) {
				s.Equal(DefaultWorkerPort, c.WorkerPort)
				s.Equal(DefaultJPEGQuality, c.JPEGQuality)
				s.Equal(DefaultImageMaxDimension, c.ImageMaxDimension)
			},
		},
		{
			name:     "invalid JSON returns defaults",
			settings: `{not json`,
			check: func(c *Config) {
				s.Equal(DefaultWorkerPort, c.WorkerPort)
				s.Equal(DefaultNotifier, c.Notifier)
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_ = os.RemoveAll(DataDir())
			if tt.settings != "" {
				s.Require().NoError(EnsureDataDir())
				s.Require().NoError(os.WriteFile(SettingsPath(), []byte(tt.settings), 0600))
			}

			cfg, err := Load()
			s.Require().NoError(err)
			tt.check(cfg)
		})
	}
}

func (s *ConfigSuite) TestLoad_EnvOverrides() {
	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(`{"FOCUSMATE_NOTIFIER": "log"}`), 0600))

	s.T().Setenv("FOCUSMATE_NOTIFIER", "osascript")
	s.T().Setenv("FOCUSMATE_COOLDOWN_MAX_STEPS", "7")
	s.T().Setenv("FOCUSMATE_INSIGHT_TTL_HOURS", "not-a-number")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("osascript", cfg.Notifier)
	s.Equal(7, cfg.CooldownMaxSteps)
	s.Equal(DefaultInsightTTLHours, cfg.InsightTTLHours)
}

func (s *ConfigSuite) TestGetAndReload() {
	first := Get()
	s.Same(first, Get())

	s.Require().NoError(EnsureDataDir())
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(`{"FOCUSMATE_WORKER_PORT": 41000}`), 0600))

	reloaded, err := Reload()
	s.Require().NoError(err)
	s.Equal(41000, reloaded.WorkerPort)
	s.Same(reloaded, Get())
}

func TestGetWorkerPort_WithEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected int
	}{
		{name: "valid override", env: "39000", expected: 39000},
		{name: "invalid override falls back", env: "abc", expected: DefaultWorkerPort},
		{name: "negative override falls back", env: "-1", expected: DefaultWorkerPort},
	}

	t.Setenv("HOME", t.TempDir())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FOCUSMATE_WORKER_PORT", tt.env)
			globalMu.Lock()
			global = Default()
			globalMu.Unlock()
			t.Cleanup(func() {
				globalMu.Lock()
				global = nil
				globalMu.Unlock()
			})

			assert.Equal(t, tt.expected, GetWorkerPort())
		})
	}
}

func TestIsPostgres(t *testing.T) {
	cfg := Default()
	require.False(t, cfg.IsPostgres())

	cfg.DBDriver = "postgres"
	assert.True(t, cfg.IsPostgres())

	cfg = Default()
	cfg.DBDSN = "postgresql://localhost/focus"
	assert.True(t, cfg.IsPostgres())
}
