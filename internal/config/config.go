package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/tunesyncd/tunesyncd/internal/constants"
	"github.com/tunesyncd/tunesyncd/internal/logger"
)

// Config holds the static daemon settings. Runtime settings edited over the
// HTTP config endpoint live in the catalog store instead.
type Config struct {
	// ListenAddr is the HTTP control surface bind address.
	ListenAddr string `mapstructure:"listen_addr"   yaml:"listen_addr"`
	// DatabasePath is the SQLite catalog file path.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	// SyncInterval is the period between scheduled sync cycles (e.g. "15m").
	SyncInterval string `mapstructure:"sync_interval" yaml:"sync_interval"`
	// DownloadTimeout is the per-track download deadline (e.g. "300s").
	DownloadTimeout string `mapstructure:"download_timeout" yaml:"download_timeout"`
	// LogLevel specifies the logging verbosity level.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// ParsedSyncInterval is the parsed sync interval.
	ParsedSyncInterval time.Duration `yaml:"-"`
	// ParsedDownloadTimeout is the parsed download deadline.
	ParsedDownloadTimeout time.Duration `yaml:"-"`
	// ParsedLogLevel is the parsed zap log level.
	ParsedLogLevel zapcore.Level `yaml:"-"`
}

const (
	// DefaultConfigFilename is the default name of the configuration file.
	DefaultConfigFilename = ".tunesyncd.yaml"

	// DefaultListenAddr is the default HTTP bind address.
	DefaultListenAddr = "127.0.0.1:8080"

	// DefaultDatabasePath is the default SQLite catalog location.
	DefaultDatabasePath = "tunesyncd.db"

	// DefaultSyncInterval is the default period between scheduled syncs.
	DefaultSyncInterval = 15 * time.Minute

	// DefaultDownloadTimeout is the default per-track download deadline.
	DefaultDownloadTimeout = 300 * time.Second

	// DefaultMaxLogLength is the maximum size (in bytes) of a dumped
	// HTTP request or response in debug logs.
	DefaultMaxLogLength = 1 * 1024 * 1024 // 1 MB
)

// Static error definitions for better error handling.
var (
	// ErrEmptyListenAddr indicates that the HTTP bind address is missing.
	ErrEmptyListenAddr = errors.New("listen_addr cannot be empty")
	// ErrEmptyDatabasePath indicates that the catalog file path is missing.
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrInvalidSyncInterval indicates that the sync interval is not positive.
	ErrInvalidSyncInterval = errors.New("sync_interval must be positive")
	// ErrInvalidDownloadTimeout indicates that the download timeout is not positive.
	ErrInvalidDownloadTimeout = errors.New("download_timeout must be positive")
	// ErrUnknownLogLevel indicates that the log level is not recognized.
	ErrUnknownLogLevel = errors.New("unknown log level")
)

// LoadConfig loads configuration settings from a YAML file. A missing file
// is not an error, every key has a usable default.
func LoadConfig(configFilename string) (*Config, error) {
	if configFilename == "" {
		configFilename = DefaultConfigFilename
	}

	viper.SetConfigFile(configFilename)

	viper.SetDefault("listen_addr", DefaultListenAddr)
	viper.SetDefault("database_path", DefaultDatabasePath)
	viper.SetDefault("sync_interval", DefaultSyncInterval.String())
	viper.SetDefault("download_timeout", DefaultDownloadTimeout.String())
	viper.SetDefault("log_level", "info")

	if err := viper.ReadInConfig(); err != nil {
		// Only a present but unreadable file is fatal.
		if _, statErr := os.Stat(configFilename); statErr == nil {
			return nil, fmt.Errorf("failed to read config from file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration populated with every default.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      DefaultListenAddr,
		DatabasePath:    DefaultDatabasePath,
		SyncInterval:    DefaultSyncInterval.String(),
		DownloadTimeout: DefaultDownloadTimeout.String(),
		LogLevel:        "info",
	}
}

// SaveConfig writes the configuration to the given YAML file, for the init
// command that produces a starter config.
func SaveConfig(cfg *Config, configFilename string) error {
	if configFilename == "" {
		configFilename = DefaultConfigFilename
	}

	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = os.WriteFile(configFilename, content, constants.DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ValidateConfig checks the configuration for validity and sets derived fields.
func ValidateConfig(cfg *Config) error {
	var err error

	if cfg.ListenAddr == "" {
		return ErrEmptyListenAddr
	}

	if cfg.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	cfg.ParsedSyncInterval, err = time.ParseDuration(cfg.SyncInterval)
	if err != nil {
		return fmt.Errorf("failed to parse sync interval: %w", err)
	}

	if cfg.ParsedSyncInterval <= 0 {
		return ErrInvalidSyncInterval
	}

	cfg.ParsedDownloadTimeout, err = time.ParseDuration(cfg.DownloadTimeout)
	if err != nil {
		return fmt.Errorf("failed to parse download timeout: %w", err)
	}

	if cfg.ParsedDownloadTimeout <= 0 {
		return ErrInvalidDownloadTimeout
	}

	parsedLogLevel, isLogLevelCorrect := logger.ParseLogLevel(cfg.LogLevel)
	if !isLogLevelCorrect {
		return fmt.Errorf("%w: '%s'", ErrUnknownLogLevel, cfg.LogLevel)
	}

	cfg.ParsedLogLevel = parsedLogLevel

	return nil
}
