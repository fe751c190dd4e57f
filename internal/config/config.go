// Package config loads tanalite settings from a YAML config file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Database is the path to the SQLite store. The special value
	// ":memory:" opens a throwaway in-memory store.
	Database string `mapstructure:"database" yaml:"database"`

	// ExportDir is the directory watch mode monitors for export files.
	ExportDir string `mapstructure:"export_dir" yaml:"export_dir"`

	Log   LogConfig   `mapstructure:"log" yaml:"log"`
	Watch WatchConfig `mapstructure:"watch" yaml:"watch"`
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// LogConfig controls the rotating log file. Size is in megabytes.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// WatchConfig controls watch-mode debouncing.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// RetryConfig tunes the busy-retry loop around write transactions.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// DefaultPath is the config location when --config is not given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tanalite.yaml"
	}
	return filepath.Join(home, ".config", "tanalite", "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".local", "share", "tanalite")
	return &Config{
		Database:  filepath.Join(base, "tanalite.db"),
		ExportDir: ".",
		Log: LogConfig{
			File:       filepath.Join(base, "tanalite.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Watch: WatchConfig{Debounce: 2 * time.Second},
		Retry: RetryConfig{
			MaxAttempts: 8,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	}
}

// Load reads the config file at path, or the default locations when
// path is empty. A missing file yields the defaults; a malformed file
// is an error. Environment variables prefixed TANALITE_ override file
// values (TANALITE_DATABASE, TANALITE_EXPORT_DIR, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TANALITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("database", def.Database)
	v.SetDefault("export_dir", def.ExportDir)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
	v.SetDefault("watch.debounce", def.Watch.Debounce)
	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", def.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", def.Retry.MaxDelay)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile(DefaultPath())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes the built-in configuration to path as commented
// YAML, refusing to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
