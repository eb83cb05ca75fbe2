package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "signflow:inference_jobs", cfg.Queue.Name)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 60*time.Second, cfg.Worker.SweepInterval)
	assert.Equal(t, "local", cfg.Provider.Kind)
	assert.Equal(t, 4.0, cfg.Provider.HubRPS)
	assert.Equal(t, 10*time.Minute, cfg.Provider.Timeout)
	assert.Equal(t, 0, cfg.Canary.TrafficPercent)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signflow.yaml")
	content := `
database:
  type: postgres
  dsn: postgres://signflow@localhost/signflow?sslmode=disable
queue:
  backend: memory
canary:
  model_id: model-b
  traffic_percent: 20
session:
  ttl: 15m
logging:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "model-b", cfg.Canary.ModelID)
	assert.Equal(t, 20, cfg.Canary.TrafficPercent)
	assert.Equal(t, 15*time.Minute, cfg.Session.TTL)
	assert.True(t, cfg.Logging.JSON)

	// untouched keys keep their defaults
	assert.Equal(t, "redis://localhost:6379/0", cfg.Queue.RedisURL)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNormalizeFloorsAndClamps(t *testing.T) {
	cfg := Normalize(Config{
		Worker: WorkerConfig{
			SweepInterval: time.Second,
			PopTimeout:    time.Millisecond,
			IdleSleep:     0,
		},
		Canary:  CanaryConfig{TrafficPercent: 250},
		Session: SessionConfig{TTL: -time.Minute},
	})

	assert.Equal(t, 5*time.Second, cfg.Worker.SweepInterval)
	assert.Equal(t, time.Second, cfg.Worker.PopTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Worker.IdleSleep)
	assert.Equal(t, 100, cfg.Canary.TrafficPercent)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)

	under := Normalize(Config{Canary: CanaryConfig{TrafficPercent: -3}})
	assert.Equal(t, 0, under.Canary.TrafficPercent)
}
