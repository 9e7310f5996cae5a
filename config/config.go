// Package config provides configuration loading for opsdeck tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// Config represents the complete opsdeck configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Observe ObserveConfig `yaml:"observe"`
}

// ServerConfig configures the console API connection
type ServerConfig struct {
	// URL is the console API base URL (e.g. "https://console.example.com/api")
	URL string `yaml:"url"`
	// Timeout bounds individual HTTP calls (default: 15s)
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig configures session behavior
type SessionConfig struct {
	// RefreshTimeout bounds a token refresh flight (default: 10s)
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	// RevokeTimeout bounds the best-effort logout call (default: 5s)
	RevokeTimeout time.Duration `yaml:"revoke_timeout"`
	// EntryRoute overrides where unauthenticated operators are sent
	EntryRoute string `yaml:"entry_route"`
	// HomeRoute overrides where authenticated operators land
	HomeRoute string `yaml:"home_route"`
	// DeniedRoute overrides where permission failures are sent
	DeniedRoute string `yaml:"denied_route"`
}

// StoreConfig selects the credential store
type StoreConfig struct {
	// Kind is one of "memory", "file", "redis" (default: "file")
	Kind string `yaml:"kind"`
	// Path is the credential file location for the file store
	// (default: ~/.config/opsdeck/credentials.json)
	Path string `yaml:"path"`
	// Redis configures the redis store when Kind is "redis"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis credential store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObserveConfig toggles observability sinks
type ObserveConfig struct {
	// Metrics enables Prometheus metrics registration
	Metrics bool `yaml:"metrics"`
	// Audit enables the JSON audit trail on stdout
	Audit bool `yaml:"audit"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			RefreshTimeout: opsdeck.DefaultRefreshTimeout,
			RevokeTimeout:  opsdeck.DefaultRevokeTimeout,
		},
		Store: StoreConfig{
			Kind: "file",
			Path: "", // resolved to ~/.config/opsdeck/credentials.json at use
		},
		Observe: ObserveConfig{
			Metrics: false,
			Audit:   false,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	switch c.Store.Kind {
	case "memory", "file":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("store.kind must be one of memory, file, redis")
	}
	return nil
}

// ClientConfig converts the session section into an opsdeck.Config.
func (c *Config) ClientConfig() opsdeck.Config {
	return opsdeck.Config{
		RefreshTimeout: c.Session.RefreshTimeout,
		RevokeTimeout:  c.Session.RevokeTimeout,
		EntryRoute:     c.Session.EntryRoute,
		HomeRoute:      c.Session.HomeRoute,
		DeniedRoute:    c.Session.DeniedRoute,
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.URL != "" {
		c.Server.URL = other.Server.URL
	}
	if other.Server.Timeout != 0 {
		c.Server.Timeout = other.Server.Timeout
	}

	// Session
	if other.Session.RefreshTimeout != 0 {
		c.Session.RefreshTimeout = other.Session.RefreshTimeout
	}
	if other.Session.RevokeTimeout != 0 {
		c.Session.RevokeTimeout = other.Session.RevokeTimeout
	}
	if other.Session.EntryRoute != "" {
		c.Session.EntryRoute = other.Session.EntryRoute
	}
	if other.Session.HomeRoute != "" {
		c.Session.HomeRoute = other.Session.HomeRoute
	}
	if other.Session.DeniedRoute != "" {
		c.Session.DeniedRoute = other.Session.DeniedRoute
	}

	// Store
	if other.Store.Kind != "" {
		c.Store.Kind = other.Store.Kind
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.Redis.Addr != "" {
		c.Store.Redis = other.Store.Redis
	}

	// Observe
	if other.Observe.Metrics {
		c.Observe.Metrics = true
	}
	if other.Observe.Audit {
		c.Observe.Audit = true
	}
}
