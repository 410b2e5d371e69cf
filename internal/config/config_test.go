package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no config.yaml is picked up
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Store.MaxPoints)
	assert.Equal(t, time.Hour, cfg.Store.MaxAge)
	assert.Equal(t, "@every 10s", cfg.Scheduler.Evaluate)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Notify.InitialBackoff)
	assert.Equal(t, "system", cfg.Health.SystemScope)
	assert.Equal(t, "sqlite", cfg.Rules.Source)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
store:
  max_points: 50
  max_age: 10m
scheduler:
  evaluate: "@every 2s"
notify:
  max_attempts: 5
rules:
  source: file
  path: rules.yaml
kafka:
  brokers: ["localhost:9092"]
  topic: alerts
`), 0o644)
	require.NoError(t, err)

	t.Setenv("METRICWATCH_HEALTH_PROBE_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Store.MaxPoints)
	assert.Equal(t, 10*time.Minute, cfg.Store.MaxAge)
	assert.Equal(t, "@every 2s", cfg.Scheduler.Evaluate)
	assert.Equal(t, 5, cfg.Notify.MaxAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Health.ProbeTimeout)
	assert.Equal(t, "file", cfg.Rules.Source)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero max points", body: "store:\n  max_points: 0\n"},
		{name: "file source without path", body: "rules:\n  source: file\n"},
		{name: "unknown source", body: "rules:\n  source: redis\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Store.MaxPoints)
	assert.Equal(t, "@every 10s", cfg.Scheduler.Evaluate)
	assert.Equal(t, 2.0, cfg.Notify.BackoffMultiplier)
}
