package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.RetryDelays)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, time.Duration(0), cfg.PollWindow)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "mqtt", cfg.RealtimeBackend)
	assert.False(t, cfg.LogToConsole)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("RETRY_DELAYS", "500ms, 1500ms")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("POLL_WINDOW", "5m")
	t.Setenv("REALTIME_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_TO_CONSOLE", "TRUE")

	cfg := LoadConfig()

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}, cfg.RetryDelays)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.PollWindow)
	assert.Equal(t, "redis", cfg.RealtimeBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.LogToConsole)
}

func TestLoadConfig_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("RETRY_DELAYS", "1s,later")

	cfg := LoadConfig()

	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.RetryDelays)
}
