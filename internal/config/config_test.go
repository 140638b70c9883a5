package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from a temp dir so no config.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "https://api.localserp.io", cfg.Serp.BaseURL)
	assert.Equal(t, 20, cfg.Serp.Depth)
	assert.Equal(t, 3, cfg.Serp.RetryMaxAttempts)
	assert.Equal(t, 1, cfg.Credit.Rates.SearchRankPerCheck)
	assert.Equal(t, 1, cfg.Credit.Rates.GeoGridPerCheck)
	assert.Equal(t, 2, cfg.Credit.Rates.LLMPerCheck)
	assert.Equal(t, 8, cfg.Checker.Concurrency)
	assert.Equal(t, 60, cfg.Dispatch.IntervalSecs)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Anthropic.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RANKTRACKER_STORE_DRIVER", "sqlite")
	t.Setenv("RANKTRACKER_SERP_KEY", "test-key")
	t.Setenv("RANKTRACKER_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "test-key", cfg.Serp.Key)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nonsense", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
