// Package config handles threadmail configuration loading and
// validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for the threadmail
// daemon. Runtime behavior settings (response texts, emoji, colors,
// auto-close) live in the settings store, not here; this covers only
// process bootstrap.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Chat transport settings
	Chat ChatConfig `yaml:"chat" mapstructure:"chat"`

	// Log viewer settings
	LogViewer LogViewerConfig `yaml:"log_viewer" mapstructure:"log_viewer"`

	// Metrics settings
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// GlobalConfig contains global threadmail settings.
type GlobalConfig struct {
	// DataDir is where threadmail stores its data (default: ~/.local/share/threadmail).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/threadmail).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// SettingsPath is the settings SQLite database file path.
	SettingsPath string `yaml:"settings_path" mapstructure:"settings_path"`

	// LogsPath is the conversation-log SQLite database file path.
	LogsPath string `yaml:"logs_path" mapstructure:"logs_path"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ChatConfig contains chat transport settings.
type ChatConfig struct {
	// TokenRef names the environment variable holding the service
	// token. The token itself never appears in config files.
	TokenRef string `yaml:"token_ref" mapstructure:"token_ref"`

	// GuildID is the main guild the bridge operates in.
	GuildID int64 `yaml:"guild_id" mapstructure:"guild_id"`

	// RatePerSecond paces outbound transport calls.
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`

	// RateBurst is the transport pacer's burst allowance.
	RateBurst int `yaml:"rate_burst" mapstructure:"rate_burst"`

	// RequestTimeout bounds individual transport calls.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// LogViewerConfig contains conversation-log viewer settings.
type LogViewerConfig struct {
	// BaseURL is the public viewer URL prefix for sealed logs.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MetricsConfig contains prometheus exposition settings.
type MetricsConfig struct {
	// Enabled turns the /metrics listener on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the listen address for the metrics endpoint.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "threadmail"),
			ConfigDir: filepath.Join(homeDir, ".config", "threadmail"),
		},
		Database: DatabaseConfig{
			SettingsPath:  "", // Will be set to DataDir/settings.db
			LogsPath:      "", // Will be set to DataDir/logs.db
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Chat: ChatConfig{
			TokenRef:       "THREADMAIL_TOKEN",
			RatePerSecond:  25,
			RateBurst:      50,
			RequestTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9434",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.BusyTimeoutMs < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative")
	}

	if c.Chat.RatePerSecond <= 0 {
		return fmt.Errorf("chat.rate_per_second must be positive")
	}
	if c.Chat.RateBurst < 1 {
		return fmt.Errorf("chat.rate_burst must be at least 1")
	}
	if c.Chat.RequestTimeout < time.Second {
		return fmt.Errorf("chat.request_timeout must be at least 1s")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// SettingsDBPath returns the full settings database path.
func (c *Config) SettingsDBPath() string {
	if c.Database.SettingsPath != "" {
		return c.Database.SettingsPath
	}
	return filepath.Join(c.Global.DataDir, "settings.db")
}

// LogsDBPath returns the full conversation-log database path.
func (c *Config) LogsDBPath() string {
	if c.Database.LogsPath != "" {
		return c.Database.LogsPath
	}
	return filepath.Join(c.Global.DataDir, "logs.db")
}

// Token resolves the transport token from the configured reference.
func (c *Config) Token() string {
	if c.Chat.TokenRef == "" {
		return ""
	}
	return os.Getenv(c.Chat.TokenRef)
}
