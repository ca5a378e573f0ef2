// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for gateway state.
// Uses ~/.alfred-gateway/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".alfred-gateway")
}

// Config holds all configuration for the gateway.
type Config struct {
	// Transport identity
	Provider string `mapstructure:"provider"`

	// Paths
	AuthDir string `mapstructure:"auth_dir"`

	// Session
	MaxTextChars     int           `mapstructure:"max_text_chars"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	MaxQRGenerations int           `mapstructure:"max_qr_generations"`

	// Inbound policy
	AllowSelfFromMe    bool          `mapstructure:"allow_self_from_me"`
	RequirePrefix      string        `mapstructure:"require_prefix"`
	HistoryGraceWindow time.Duration `mapstructure:"history_grace_window"`
	AllowedSenders     []string      `mapstructure:"allowed_senders"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:           "whatsapp",
		AuthDir:            filepath.Join(defaultDataDir(), "auth"),
		MaxTextChars:       4000,
		ReconnectDelay:     3 * time.Second,
		MaxQRGenerations:   3,
		AllowSelfFromMe:    false,
		RequirePrefix:      "",
		HistoryGraceWindow: 90 * time.Second,
		AllowedSenders:     nil,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("provider", defaults.Provider)
	v.SetDefault("auth_dir", defaults.AuthDir)
	v.SetDefault("max_text_chars", defaults.MaxTextChars)
	v.SetDefault("reconnect_delay", defaults.ReconnectDelay)
	v.SetDefault("max_qr_generations", defaults.MaxQRGenerations)
	v.SetDefault("allow_self_from_me", defaults.AllowSelfFromMe)
	v.SetDefault("require_prefix", defaults.RequirePrefix)
	v.SetDefault("history_grace_window", defaults.HistoryGraceWindow)
	v.SetDefault("allowed_senders", defaults.AllowedSenders)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with ALFRED_ prefix
	v.SetEnvPrefix("ALFRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml falls back to built-in defaults.
			// Only fail when the user named a path that cannot be read.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.AuthDir == "" {
		return fmt.Errorf("auth dir is required")
	}

	if c.MaxTextChars <= 0 {
		return fmt.Errorf("max text chars must be positive")
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}

	if c.MaxQRGenerations <= 0 {
		return fmt.Errorf("max qr generations must be positive")
	}

	if c.HistoryGraceWindow < 0 {
		return fmt.Errorf("history grace window must be non-negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	return nil
}
