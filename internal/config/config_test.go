package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Connection.Host)
	assert.Equal(t, 5432, cfg.Connection.Port)
	assert.Equal(t, "prefer", cfg.Connection.SSLMode)

	assert.Equal(t, 120, cfg.Run.Minutes)
	assert.Equal(t, 0, cfg.Run.MinSizeMB)
	assert.Equal(t, 10, cfg.Run.PauseSeconds)
	assert.Equal(t, int64(10000000), cfg.Run.FreezeAge)
	assert.Equal(t, 20, cfg.Run.CostDelayMS)
	assert.Equal(t, 2000, cfg.Run.CostLimit)
	assert.False(t, cfg.Run.Vacuum)
	assert.False(t, cfg.Run.EnforceTime)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)

	// Defaults are valid on their own.
	assert.NoError(t, cfg.Validate())
}
