package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestLoadConfig tests loading configuration from a YAML file.
func TestLoadConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `listen_addr: "0.0.0.0:9090"
database_path: "/var/lib/tunesyncd/catalog.db"
sync_interval: "5m"
download_timeout: "120s"
log_level: "debug"
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/tunesyncd/catalog.db", cfg.DatabasePath)
	assert.Equal(t, "5m", cfg.SyncInterval)
	assert.Equal(t, "120s", cfg.DownloadTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

// TestLoadConfig_MissingFile tests that an absent file yields defaults.
func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, DefaultSyncInterval.String(), cfg.SyncInterval)
	assert.Equal(t, DefaultDownloadTimeout.String(), cfg.DownloadTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

// TestValidateConfig tests validation and derived-field parsing.
func TestValidateConfig(t *testing.T) {
	t.Parallel()

	validConfig := func() *Config {
		return &Config{
			ListenAddr:      DefaultListenAddr,
			DatabasePath:    DefaultDatabasePath,
			SyncInterval:    "15m",
			DownloadTimeout: "300s",
			LogLevel:        "info",
		}
	}

	t.Run("valid config parses derived fields", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		require.NoError(t, ValidateConfig(cfg))

		assert.Equal(t, 15*time.Minute, cfg.ParsedSyncInterval)
		assert.Equal(t, 300*time.Second, cfg.ParsedDownloadTimeout)
		assert.Equal(t, zapcore.InfoLevel, cfg.ParsedLogLevel)
	})

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectedErr error
	}{
		{
			name:        "empty listen addr",
			mutate:      func(cfg *Config) { cfg.ListenAddr = "" },
			expectedErr: ErrEmptyListenAddr,
		},
		{
			name:        "empty database path",
			mutate:      func(cfg *Config) { cfg.DatabasePath = "" },
			expectedErr: ErrEmptyDatabasePath,
		},
		{
			name:        "negative sync interval",
			mutate:      func(cfg *Config) { cfg.SyncInterval = "-1m" },
			expectedErr: ErrInvalidSyncInterval,
		},
		{
			name:        "zero download timeout",
			mutate:      func(cfg *Config) { cfg.DownloadTimeout = "0s" },
			expectedErr: ErrInvalidDownloadTimeout,
		},
		{
			name:        "unknown log level",
			mutate:      func(cfg *Config) { cfg.LogLevel = "loud" },
			expectedErr: ErrUnknownLogLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			assert.ErrorIs(t, ValidateConfig(cfg), tt.expectedErr)
		})
	}

	t.Run("unparsable sync interval", func(t *testing.T) {
		t.Parallel()

		cfg := validConfig()
		cfg.SyncInterval = "soon"

		assert.Error(t, ValidateConfig(cfg))
	})
}
