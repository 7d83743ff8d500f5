package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7700", cfg.Server.Port)
	assert.Equal(t, 262144, cfg.Capture.BufferSize)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.MinInterval)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.MaxInterval)
	assert.True(t, cfg.Analysis.Failover)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9900")
	t.Setenv("POLL_MIN_INTERVAL", "500ms")
	t.Setenv("FAILOVER_ENABLED", "false")
	t.Setenv("HEALTH_BACKOFF_BASE", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9900", cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.MinInterval)
	assert.False(t, cfg.Analysis.Failover)
	assert.Equal(t, time.Minute, cfg.Analysis.BackoffBase)
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "7700", cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Analysis.BackoffMax)
	assert.Equal(t, 150*time.Millisecond, cfg.Scheduler.ReturnDelay)
}
