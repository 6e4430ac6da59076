package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the claimchat client configuration file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Session   SessionConfig   `toml:"session"`
	Messaging MessagingConfig `toml:"messaging"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig locates the messaging backend.
type ServerConfig struct {
	BaseURL   string `toml:"base_url"`
	SocketURL string `toml:"socket_url"`
	Token     string `toml:"token"`
}

// SessionConfig identifies the local operator.
type SessionConfig struct {
	UserID   string `toml:"user_id"`
	UserName string `toml:"user_name"`
}

// MessagingConfig tunes the sync engine.
type MessagingConfig struct {
	HistoryLimit          int `toml:"history_limit"`
	TypingDebounceMs      int `toml:"typing_debounce_ms"`
	TypingRemoteTimeoutMs int `toml:"typing_remote_timeout_ms"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Path string `toml:"path"`
}

// Defaults applied by Load when fields are absent.
const (
	DefaultHistoryLimit          = 50
	DefaultTypingDebounceMs      = 3000
	DefaultTypingRemoteTimeoutMs = 6000
)

// Load reads config from the given path, applying defaults, and validates
// the fields the engine cannot run without.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("config: server.base_url is required")
	}
	if c.Server.SocketURL == "" {
		return fmt.Errorf("config: server.socket_url is required")
	}
	if c.Session.UserID == "" {
		return fmt.Errorf("config: session.user_id is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Messaging.HistoryLimit <= 0 {
		c.Messaging.HistoryLimit = DefaultHistoryLimit
	}
	if c.Messaging.TypingDebounceMs <= 0 {
		c.Messaging.TypingDebounceMs = DefaultTypingDebounceMs
	}
	if c.Messaging.TypingRemoteTimeoutMs <= 0 {
		c.Messaging.TypingRemoteTimeoutMs = DefaultTypingRemoteTimeoutMs
	}
}

// TypingDebounce returns the local typing inactivity window.
func (c *Config) TypingDebounce() time.Duration {
	return time.Duration(c.Messaging.TypingDebounceMs) * time.Millisecond
}

// TypingRemoteTimeout returns the hard expiry for remote typists.
func (c *Config) TypingRemoteTimeout() time.Duration {
	return time.Duration(c.Messaging.TypingRemoteTimeoutMs) * time.Millisecond
}
