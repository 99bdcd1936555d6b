package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgestreams/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "edgestreams.control", cfg.Control.Subject)
	assert.Equal(t, 10*time.Second, cfg.Jobs.CloseTimeout)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
logging:
  level: debug
  format: json
scheduler:
  workers: 8
metrics:
  enabled: true
  counters: true
jobs:
  app_name: sensors
  close_timeout: 3s
control:
  nats_url: nats://localhost:4222
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 256, cfg.Scheduler.QueueSize, "unset fields keep defaults")
	assert.True(t, cfg.Metrics.Counters)
	assert.Equal(t, "sensors", cfg.Jobs.AppName)
	assert.Equal(t, 3*time.Second, cfg.Jobs.CloseTimeout)
	assert.Equal(t, "edgestreams.control", cfg.Control.Subject)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "logging: {level: loud}"},
		{"bad format", "logging: {format: xml}"},
		{"zero workers", "scheduler: {workers: 0}"},
		{"negative timeout", "jobs: {close_timeout: -1s}"},
		{"counters without metrics", "metrics: {enabled: false, counters: true}"},
		{"subject required", "control: {nats_url: 'nats://x', subject: ''}"},
		{"not yaml", "logging: [unclosed"},
		{"bad duration", "jobs: {close_timeout: soon}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_LayersAndEnv(t *testing.T) {
	base := writeFile(t, "base.yaml", `
logging:
  level: warn
scheduler:
  workers: 2
  queue_size: 32
`)
	override := writeFile(t, "override.yml", `
scheduler:
  workers: 6
jobs:
  app_name: edge
`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	l.getenv = func(name string) string {
		if name == "EDGESTREAMS_LOG_FORMAT" {
			return "json"
		}
		return ""
	}

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 6, cfg.Scheduler.Workers)
	assert.Equal(t, 32, cfg.Scheduler.QueueSize, "nested keys merge")
	assert.Equal(t, "edge", cfg.Jobs.AppName)
}

func TestLoader_BadEnvOverride(t *testing.T) {
	l := NewLoader()
	l.getenv = func(name string) string {
		if name == "EDGESTREAMS_SCHEDULER_WORKERS" {
			return "many"
		}
		return ""
	}
	_, err := l.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoad_RejectsFiles(t *testing.T) {
	_, err := Load(writeFile(t, "config.json", `{}`))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	cfg := LoggingConfig{Level: "WARN", Format: "json"}
	logger := cfg.NewLogger(os.Stderr)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(Default())

	bad := Default()
	bad.Scheduler.Workers = 0
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))
	assert.Equal(t, 4, sc.Get().Scheduler.Workers)

	got := sc.Get()
	got.Scheduler.Workers = 99
	assert.Equal(t, 4, sc.Get().Scheduler.Workers, "Get returns a copy")
}

func TestSafeConfig_ThreadSafety(t *testing.T) {
	sc := NewSafeConfig(nil)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					cfg := Default()
					cfg.Scheduler.Workers = 1 + j%4
					if err := sc.Update(cfg); err != nil {
						errs <- err
						return
					}
					continue
				}
				if w := sc.Get().Scheduler.Workers; w < 1 || w > 4 {
					errs <- fmt.Errorf("unexpected workers %d", w)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
