package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
mqtt:
  enabled: true
  broker: tcp://localhost:1883
engine:
  min_devices_per_cell: 5
  timezone: Asia/Kolkata
  windows:
    - name: 15min
      length: 15m
    - name: today
      calendar: true
  rate_limit:
    max_pings: 30
catalog:
  source: file
  path: configs/catalog.yaml
notifier:
  kind: mqtt
  topic: campus/breaches
  qos: 1
services:
  ingest:
    enabled: true
    topic: campus/pings
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfig(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Engine.MinDevicesPerCell)
	assert.Equal(t, 30, cfg.Engine.RateLimit.MaxPings)
	assert.Equal(t, time.Hour, cfg.Engine.RateLimit.Window)
	assert.Equal(t, 7, cfg.Engine.CellPrecision)
	assert.Equal(t, 2*time.Minute, cfg.Engine.MaxClockSkew)
	require.Len(t, cfg.Engine.Windows, 2)
	assert.Equal(t, aggregator.WindowSpec{Name: "15min", Length: 15 * time.Minute}, cfg.Engine.Windows[0])
	assert.True(t, cfg.Engine.Windows[1].Calendar)
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())
	assert.Equal(t, 8, cfg.Services.Ingest.Workers)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMQTTBroker, "ssl://broker.example:8883")
	t.Setenv(EnvRedisPassword, "hunter2")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig), file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "ssl://broker.example:8883", cfg.MQTT.Broker)
	assert.Equal(t, "hunter2", cfg.Catalog.Redis.Password)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown notifier":      "catalog: {path: c.yaml}\nnotifier: {kind: pigeon}\n",
		"missing path":          "catalog: {source: geojson}\n",
		"bad timezone":          "catalog: {path: c.yaml}\nengine: {timezone: Mars/Olympus}\n",
		"mqtt without broker":   "catalog: {path: c.yaml}\nnotifier: {kind: mqtt, topic: t}\n",
		"kafka without brokers": "catalog: {path: c.yaml}\nnotifier: {kind: kafka, topic: t}\n",
		"redis without addr":    "catalog: {source: redis}\n",
		"bad log level":         "catalog: {path: c.yaml}\nlog: {level: loud}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body), file.NewFileService())
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), file.NewFileService())
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoadEnvFile(t *testing.T) {
	fs := file.NewFileService()

	// A missing file is not an error.
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), fs))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CROWDSENSE_MAPS_API_KEY=from-dotenv\n"), 0o600))
	t.Setenv(EnvMapsAPIKey, "")
	require.NoError(t, os.Unsetenv(EnvMapsAPIKey))

	require.NoError(t, LoadEnvFile(path, fs))
	assert.Equal(t, "from-dotenv", os.Getenv(EnvMapsAPIKey))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	fallback := newLogger(&buf, "nonsense", false)
	fallback.Info().Msg("fallback")
	assert.Contains(t, buf.String(), "fallback")
}

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	pool := NewWorkerPool(4, 16)
	var done atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit(func() { done.Add(1) }))
	}
	pool.Shutdown()
	assert.Equal(t, int64(100), done.Load())
}

func TestWorkerPool_TrySubmitFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.Submit(func() { close(started); <-block }))
	<-started
	require.NoError(t, pool.TrySubmit(func() {}))
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrPoolFull)

	close(block)
	pool.Shutdown()
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(2, 2)
	pool.Shutdown()
	pool.Shutdown()

	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrPoolClosed)
}

func TestSliceToSet(t *testing.T) {
	set := SliceToSet([]string{"a", "b", "a"})
	assert.Len(t, set, 2)
	assert.Contains(t, set, "a")
	assert.Contains(t, set, "b")
}
