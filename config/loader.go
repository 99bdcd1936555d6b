package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/edgestreams/errors"
)

const (
	maxConfigSize = 1 << 20 // 1MB max config file size
	envPrefix     = "EDGESTREAMS"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  envPrefix,
		getenv:     os.Getenv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load loads and merges all configuration layers over the defaults
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}
	for _, path := range l.layers {
		raw, err := readLayer(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	// re-encode the merged tree so yaml decodes durations and types once
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "encode merged layers")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Load reads a single YAML file over the defaults
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	return l.Load()
}

func readLayer(path string) (map[string]any, error) {
	if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
		return nil, fmt.Errorf("%w: only YAML config files allowed: %s", errors.ErrInvalidConfig, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMissingConfig, err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("%w: config file too large: %d > %d", errors.ErrInvalidConfig, info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(name string) string { return l.getenv(l.envPrefix + "_" + name) }

	if val := env("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := env("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := env("SCHEDULER_WORKERS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_SCHEDULER_WORKERS: %v", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "Load", "apply env overrides")
		}
		cfg.Scheduler.Workers = n
	}
	if val := env("CLOSE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_CLOSE_TIMEOUT: %v", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "Load", "apply env overrides")
		}
		cfg.Jobs.CloseTimeout = d
	}
	if val := env("NATS_URL"); val != "" {
		cfg.Control.NATSURL = val
	}
	return nil
}
