// Package config provides configuration file support for chatlock.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flirtduo/chatlock/pkg/errclass"
	"github.com/flirtduo/chatlock/pkg/fsutil"
	"github.com/flirtduo/chatlock/pkg/model"
	"github.com/flirtduo/chatlock/pkg/webhook"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "CHATLOCK_CONFIG"

// DefaultPath is used when neither a flag nor EnvPath is set.
const DefaultPath = "chatlock.yaml"

// Config represents the chatlock server configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Lock          model.LockPolicy   `yaml:"lock"`
	Store         StoreConfig        `yaml:"store"`
	Retry         RetryConfig        `yaml:"retry"`
	Conversations ConversationConfig `yaml:"conversations"`
	Chatters      []ChatterConfig    `yaml:"chatters"`
	Logging       LoggingConfig      `yaml:"logging"`
	Audit         AuditConfig        `yaml:"audit"`
	Webhooks      webhook.Config     `yaml:"webhooks"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// StoreConfig selects the lock store.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // sqlite, memory
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Factor       float64       `yaml:"factor"`
	Jitter       float64       `yaml:"jitter"`
}

// Conversation sources.
const (
	SourceAny    = "any"
	SourceStatic = "static"
	SourceHTTP   = "http"
)

// ConversationConfig selects how conversation existence is checked.
type ConversationConfig struct {
	Source  string        `yaml:"source"` // any, static, http
	IDs     []string      `yaml:"ids,omitempty"`
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ChatterConfig is one operator account allowed to take locks.
type ChatterConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// AuditConfig configures the lock transition audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Lock: model.DefaultLockPolicy(),
		Store: StoreConfig{
			Driver:   DriverSQLite,
			Path:     "chatlock.db",
			PoolSize: 4,
		},
		Retry: RetryConfig{
			Attempts:     4,
			InitialDelay: 25 * time.Millisecond,
			Factor:       2.0,
			Jitter:       0.2,
		},
		Conversations: ConversationConfig{
			Source:  SourceAny,
			Timeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Path: "chatlock-audit.jsonl",
		},
		Webhooks: *webhook.DefaultConfig(),
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// ResolvePath returns flagPath, else $CHATLOCK_CONFIG, else DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load loads configuration from path.
// Returns default config if file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s", path).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the invariants the lock manager relies on.
func (c *Config) Validate() error {
	invalid := errclass.ErrConfigInvalid
	switch {
	case c.Lock.LeaseDuration <= 0:
		return invalid.WithMessage("lock.lease must be positive")
	case c.Lock.HeartbeatInterval <= 0 || c.Lock.HeartbeatInterval >= c.Lock.LeaseDuration:
		return invalid.WithMessagef("lock.heartbeat_interval must be in (0, %s)", c.Lock.LeaseDuration)
	case c.Lock.SweepInterval <= 0:
		return invalid.WithMessage("lock.sweep_interval must be positive")
	case c.Retry.Attempts < 1:
		return invalid.WithMessage("retry.attempts must be at least 1")
	case c.Retry.Factor < 1:
		return invalid.WithMessage("retry.factor must be at least 1")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return invalid.WithMessage("store.path is required for the sqlite driver")
		}
	default:
		return invalid.WithMessagef("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Conversations.Source {
	case SourceAny, SourceStatic:
	case SourceHTTP:
		if c.Conversations.URL == "" {
			return invalid.WithMessage("conversations.url is required for the http source")
		}
	default:
		return invalid.WithMessagef("unknown conversations.source %q", c.Conversations.Source)
	}

	ids := make(map[string]bool)
	tokens := make(map[string]bool)
	for i, ch := range c.Chatters {
		if ch.ID == "" || ch.Token == "" {
			return invalid.WithMessagef("chatters[%d]: id and token are required", i)
		}
		if ids[ch.ID] {
			return invalid.WithMessagef("chatters[%d]: duplicate id %s", i, ch.ID)
		}
		if tokens[ch.Token] {
			return invalid.WithMessagef("chatters[%d]: token reused", i)
		}
		ids[ch.ID] = true
		tokens[ch.Token] = true
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return invalid.WithMessage("audit.path is required when audit is enabled")
	}
	return nil
}
