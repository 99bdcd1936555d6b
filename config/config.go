// Package config loads and validates the runtime configuration. Files are
// YAML; layers are merged in order and EDGESTREAMS_* environment variables
// override the result.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/edgestreams/errors"
)

// Config represents the complete runtime configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Jobs      JobsConfig      `yaml:"jobs" json:"jobs"`
	Control   ControlConfig   `yaml:"control" json:"control"`
}

// LoggingConfig selects the log level and handler format
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json or text
}

// SchedulerConfig sizes the shared timer worker pool
type SchedulerConfig struct {
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// MetricsConfig controls metric collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Counters inserts a counter tap on every connected output of every submitted job
	Counters bool `yaml:"counters" json:"counters"`
}

// JobsConfig holds job defaults
type JobsConfig struct {
	AppName      string        `yaml:"app_name" json:"app_name"`
	CloseTimeout time.Duration `yaml:"close_timeout" json:"close_timeout"`
}

// ControlConfig configures the NATS control transport. An empty URL
// disables it.
type ControlConfig struct {
	NATSURL string `yaml:"nats_url" json:"nats_url"`
	Subject string `yaml:"subject" json:"subject"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{Workers: 4, QueueSize: 256},
		Metrics:   MetricsConfig{Enabled: true},
		Jobs:      JobsConfig{AppName: "app", CloseTimeout: 10 * time.Second},
		Control:   ControlConfig{Subject: "edgestreams.control"},
	}
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Parse", "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Scheduler.Workers <= 0 {
		problems = append(problems, "scheduler.workers must be positive")
	}
	if c.Scheduler.QueueSize <= 0 {
		problems = append(problems, "scheduler.queue_size must be positive")
	}
	if c.Jobs.AppName == "" {
		problems = append(problems, "jobs.app_name is required")
	}
	if c.Jobs.CloseTimeout <= 0 {
		problems = append(problems, "jobs.close_timeout must be positive")
	}
	if c.Control.NATSURL != "" && c.Control.Subject == "" {
		problems = append(problems, "control.subject is required when control.nats_url is set")
	}
	if c.Metrics.Counters && !c.Metrics.Enabled {
		problems = append(problems, "metrics.counters requires metrics.enabled")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"config", "Validate", "validate config")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	// every field is a value type
	copied := *c
	return &copied
}

// String returns the YAML form of the config
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg.Clone()}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "validate config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
