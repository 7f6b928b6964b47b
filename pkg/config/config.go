// Package config holds the connection subsystem's configuration: timeouts,
// retry policy, device-class overrides, and logger construction.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// RetryPolicy controls automatic reconnection after recoverable failures.
// Loaded once, immutable afterwards.
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts" default:"3"`
	BaseDelay         time.Duration `yaml:"base_delay" default:"1s"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" default:"2.0"`
}

// Delay returns the backoff delay to wait after the given failed attempt
// (1-based): BaseDelay * BackoffMultiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scale := math.Pow(p.BackoffMultiplier, float64(attempt-1))
	return time.Duration(float64(p.BaseDelay) * scale)
}

// DeviceClass groups devices by name prefix. Some hardware families need a
// longer connection window than others; the class also gates retry
// eligibility.
type DeviceClass struct {
	Name           string        `yaml:"name"`
	NamePrefixes   []string      `yaml:"name_prefixes"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Retryable      bool          `yaml:"retryable"`
}

// UnmarshalYAML parses the class with its duration field given as a string
func (c *DeviceClass) UnmarshalYAML(node *yaml.Node) error {
	type rawClass struct {
		Name           string   `yaml:"name"`
		NamePrefixes   []string `yaml:"name_prefixes"`
		ConnectTimeout string   `yaml:"connect_timeout"`
		Retryable      bool     `yaml:"retryable"`
	}

	var raw rawClass
	if err := node.Decode(&raw); err != nil {
		return err
	}

	c.Name = raw.Name
	c.NamePrefixes = raw.NamePrefixes
	c.Retryable = raw.Retryable
	if raw.ConnectTimeout != "" {
		d, err := time.ParseDuration(raw.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("invalid connect_timeout for class %s: %w", raw.Name, err)
		}
		c.ConnectTimeout = d
	}
	return nil
}

// Matches reports whether the device name falls into this class
func (c DeviceClass) Matches(deviceName string) bool {
	for _, prefix := range c.NamePrefixes {
		if prefix != "" && strings.HasPrefix(deviceName, prefix) {
			return true
		}
	}
	return false
}

// Config holds the subsystem configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	ScanTimeout       time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"30s"`
	VerifyWindow      time.Duration `yaml:"verify_window" default:"10s"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"5s"`
	DataTimeout       time.Duration `yaml:"data_timeout" default:"30s"`

	Retry         RetryPolicy   `yaml:"retry"`
	DeviceClasses []DeviceClass `yaml:"device_classes"`

	// StatePath is where the last-known-device record is persisted.
	StatePath string `yaml:"state_path" default:""`

	// EnableSimulatedMetrics turns on the degraded-mode synthetic metric
	// source for metric types whose read operation failed to resolve.
	// Never on by default.
	EnableSimulatedMetrics bool `yaml:"enable_simulated_metrics" default:"false"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// UnmarshalYAML overlays present fields onto the receiver, leaving absent
// fields untouched so file values layer over defaults. Durations are given
// as strings ("30s", "1m30s"); yaml.v3 has no native time.Duration support.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawRetry struct {
		MaxAttempts       *int     `yaml:"max_attempts"`
		BaseDelay         *string  `yaml:"base_delay"`
		BackoffMultiplier *float64 `yaml:"backoff_multiplier"`
	}
	type rawConfig struct {
		LogLevel               *string       `yaml:"log_level"`
		ScanTimeout            *string       `yaml:"scan_timeout"`
		ConnectTimeout         *string       `yaml:"connect_timeout"`
		VerifyWindow           *string       `yaml:"verify_window"`
		HeartbeatInterval      *string       `yaml:"heartbeat_interval"`
		DataTimeout            *string       `yaml:"data_timeout"`
		Retry                  *rawRetry     `yaml:"retry"`
		DeviceClasses          []DeviceClass `yaml:"device_classes"`
		StatePath              *string       `yaml:"state_path"`
		EnableSimulatedMetrics *bool         `yaml:"enable_simulated_metrics"`
	}

	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}

	setDuration := func(dst *time.Duration, src *string, name string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = d
		return nil
	}

	if raw.LogLevel != nil {
		c.LogLevel = *raw.LogLevel
	}
	if err := setDuration(&c.ScanTimeout, raw.ScanTimeout, "scan_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.ConnectTimeout, raw.ConnectTimeout, "connect_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.VerifyWindow, raw.VerifyWindow, "verify_window"); err != nil {
		return err
	}
	if err := setDuration(&c.HeartbeatInterval, raw.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.DataTimeout, raw.DataTimeout, "data_timeout"); err != nil {
		return err
	}
	if raw.Retry != nil {
		if raw.Retry.MaxAttempts != nil {
			c.Retry.MaxAttempts = *raw.Retry.MaxAttempts
		}
		if err := setDuration(&c.Retry.BaseDelay, raw.Retry.BaseDelay, "retry.base_delay"); err != nil {
			return err
		}
		if raw.Retry.BackoffMultiplier != nil {
			c.Retry.BackoffMultiplier = *raw.Retry.BackoffMultiplier
		}
	}
	if raw.DeviceClasses != nil {
		c.DeviceClasses = raw.DeviceClasses
	}
	if raw.StatePath != nil {
		c.StatePath = *raw.StatePath
	}
	if raw.EnableSimulatedMetrics != nil {
		c.EnableSimulatedMetrics = *raw.EnableSimulatedMetrics
	}
	return nil
}

// Load reads a YAML config file overlaid on defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.VerifyWindow >= c.ConnectTimeout {
		return fmt.Errorf("verify_window (%s) must be shorter than connect_timeout (%s)",
			c.VerifyWindow, c.ConnectTimeout)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1, got %g", c.Retry.BackoffMultiplier)
	}
	for _, class := range c.DeviceClasses {
		if class.Name == "" {
			return fmt.Errorf("device class with prefixes %v has no name", class.NamePrefixes)
		}
	}
	return nil
}

// ClassFor resolves the device class for a device name. Unmatched names get
// the standard default: the global connect timeout, retry-eligible.
func (c *Config) ClassFor(deviceName string) DeviceClass {
	for _, class := range c.DeviceClasses {
		if class.Matches(deviceName) {
			if class.ConnectTimeout == 0 {
				class.ConnectTimeout = c.ConnectTimeout
			}
			return class
		}
	}
	return DeviceClass{
		Name:           "default",
		ConnectTimeout: c.ConnectTimeout,
		Retryable:      true,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
