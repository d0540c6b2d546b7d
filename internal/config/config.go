// Package config holds the portsweep configuration file model: scan
// defaults, resolver, logging and metrics settings, loaded from YAML over
// built-in defaults.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
)

const (
	configDirPerm  = 0755
	configFilePerm = 0644
)

// Config represents the complete portsweep configuration
type Config struct {
	// Scanning defaults
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Host name resolution
	Resolver ResolverConfig `yaml:"resolver" json:"resolver"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Prometheus metrics endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Repeated scans
	Watch WatchConfig `yaml:"watch" json:"watch"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Host scanned when none is given
	DefaultHost string `yaml:"default_host" json:"default_host" validate:"required"`

	// Default inclusive port range
	MinPort int `yaml:"min_port" json:"min_port" validate:"min=1,max=65535"`
	MaxPort int `yaml:"max_port" json:"max_port" validate:"min=1,max=65535,gtefield=MinPort"`

	// Number of concurrent workers
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1,ltefield=MaxConcurrency"`

	// Upper bound on workers, kept under the descriptor limit
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1"`

	// Per-attempt connection timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// Probes per second across all workers (0 = unlimited)
	RateLimit int `yaml:"rate_limit" json:"rate_limit" validate:"min=0"`
}

// ResolverConfig holds host resolution settings
type ResolverConfig struct {
	// DNS server to query instead of the system resolver (host or host:port)
	Server string `yaml:"server" json:"server"`

	// Query timeout for the DNS server
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	// Serve metrics while scanning
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`

	// Write access log lines to the log output
	AccessLog bool `yaml:"access_log" json:"access_log"`
}

// WatchConfig holds settings for repeated scans
type WatchConfig struct {
	// Cron expression or descriptor such as "@every 5m"
	Schedule string `yaml:"schedule" json:"schedule" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			DefaultHost:    "localhost",
			MinPort:        1,
			MaxPort:        65535,
			Concurrency:    1000,
			MaxConcurrency: 4096,
			Timeout:        5 * time.Second,
			RateLimit:      0,
		},
		Resolver: ResolverConfig{
			Server:  "",
			Timeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
		Watch: WatchConfig{
			Schedule: "@every 5m",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON, so both extensions go through yaml.v3.
	if err := yaml.Unmarshal(data, config); err != nil {
		switch filepath.Ext(path) {
		case ".json":
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		default:
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. The returned error carries the
// CONFIGURATION code and names the first offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.ErrConfigInvalid(fe.Namespace(), fe.Value()).
			WithContext("rule", fe.Tag())
	}
	return errors.WrapScanError(errors.CodeConfiguration, "Invalid configuration", err)
}

// LoggerConfig converts the logging section to a logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Format = logging.LogFormat(c.Logging.Format)
	if c.Logging.Output != "" {
		cfg.Output = c.Logging.Output
	}
	return cfg
}

// ClampConcurrency caps n at the configured maximum worker count.
func (c *Config) ClampConcurrency(n int) int {
	if n > c.Scanning.MaxConcurrency {
		return c.Scanning.MaxConcurrency
	}
	return n
}

// IsMetricsEnabled returns true if the metrics endpoint should be served
func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics.Enabled && c.Metrics.ListenAddr != ""
}
