// Package config loads streamctl configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (STREAMCTL_SERVER_URL, ...).
const EnvPrefix = "STREAMCTL"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig locates the agent server.
type ServerConfig struct {
	// URL is the base URL of the agent server.
	URL string `mapstructure:"url"`

	// Timeout bounds non-streaming requests. Streams are bounded only by
	// cancellation.
	Timeout time.Duration `mapstructure:"timeout"`
}

// StreamConfig tunes stream consumption.
type StreamConfig struct {
	// ReadBuffer is the size of each chunk read from the response body.
	ReadBuffer int `mapstructure:"read_buffer"`

	// DebugFrames is how many recent raw frames are kept for failure diagnostics.
	DebugFrames int `mapstructure:"debug_frames"`
}

// ReconcileConfig controls history reconciliation.
type ReconcileConfig struct {
	// OnDone refetches history after every completed turn.
	OnDone bool `mapstructure:"on_done"`

	// MaxAttempts bounds fetch attempts, including the first.
	MaxAttempts int `mapstructure:"max_attempts"`

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration `mapstructure:"backoff"`

	// AttemptTimeout bounds each fetch.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// DatabaseConfig configures the local audit database.
type DatabaseConfig struct {
	// Path to the SQLite file. Empty disables persistence.
	Path string `mapstructure:"path"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost:2323",
			Timeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			ReadBuffer:  4096,
			DebugFrames: 16,
		},
		Reconcile: ReconcileConfig{
			OnDone:         true,
			MaxAttempts:    3,
			Backoff:        500 * time.Millisecond,
			AttemptTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(DefaultConfigDir(), "streamctl.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// configDirFunc is swapped in tests.
var configDirFunc = func() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "streamctl")
	}
	return ".streamctl"
}

// DefaultConfigDir returns the directory searched for config.yaml.
func DefaultConfigDir() string {
	return configDirFunc()
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml in DefaultConfigDir is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.timeout", cfg.Server.Timeout)
	v.SetDefault("stream.read_buffer", cfg.Stream.ReadBuffer)
	v.SetDefault("stream.debug_frames", cfg.Stream.DebugFrames)
	v.SetDefault("reconcile.on_done", cfg.Reconcile.OnDone)
	v.SetDefault("reconcile.max_attempts", cfg.Reconcile.MaxAttempts)
	v.SetDefault("reconcile.backoff", cfg.Reconcile.Backoff)
	v.SetDefault("reconcile.attempt_timeout", cfg.Reconcile.AttemptTimeout)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.URL) == "" {
		problems = append(problems, "server.url is required")
	} else if u, err := url.Parse(c.Server.URL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("server.url %q is not an absolute URL", c.Server.URL))
	}
	if c.Server.Timeout <= 0 {
		problems = append(problems, "server.timeout must be positive")
	}
	if c.Stream.ReadBuffer <= 0 {
		problems = append(problems, "stream.read_buffer must be positive")
	}
	if c.Stream.DebugFrames < 0 {
		problems = append(problems, "stream.debug_frames must not be negative")
	}
	if c.Reconcile.MaxAttempts < 1 {
		problems = append(problems, "reconcile.max_attempts must be at least 1")
	}
	if c.Reconcile.Backoff < 0 {
		problems = append(problems, "reconcile.backoff must not be negative")
	}
	if c.Reconcile.AttemptTimeout <= 0 {
		problems = append(problems, "reconcile.attempt_timeout must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
