package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Second, cfg.Timer.CheckInterval)
	assert.Equal(t, 30*time.Second, cfg.Timer.WarningThreshold)
	assert.Equal(t, 10*time.Second, cfg.Timer.FinalWarningThreshold)
	assert.Equal(t, 2, cfg.Game.MinPlayers)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
port: "9090"
rate_limit:
  per_client_per_sec: 25
timer:
  warning_threshold: 45s
game:
  min_players: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.RateLimit.PerClientPerSec)
	assert.Equal(t, 45*time.Second, cfg.Timer.WarningThreshold)
	assert.Equal(t, 3, cfg.Game.MinPlayers)

	// Untouched knobs keep their defaults.
	assert.Equal(t, 100, cfg.RateLimit.PerClientPerMin)
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "port: [not a scalar")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("RATE_PER_CLIENT_PER_SEC", "42")
	t.Setenv("RATE_LIMIT_TEST_MODE", "true")
	t.Setenv("TIMER_CHECK_INTERVAL", "250ms")
	t.Setenv("GAME_MIN_PLAYERS", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, 42, cfg.RateLimit.PerClientPerSec)
	assert.True(t, cfg.RateLimit.TestMode)
	assert.Equal(t, 250*time.Millisecond, cfg.Timer.CheckInterval)
	assert.Equal(t, 4, cfg.Game.MinPlayers)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("RATE_PER_CLIENT_PER_SEC", "lots")
	t.Setenv("TIMER_CHECK_INTERVAL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().RateLimit.PerClientPerSec, cfg.RateLimit.PerClientPerSec)
	assert.Equal(t, Default().Timer.CheckInterval, cfg.Timer.CheckInterval)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero per-second rate", func(c *Config) { c.RateLimit.PerClientPerSec = 0 }},
		{"negative per-minute rate", func(c *Config) { c.RateLimit.PerClientPerMin = -1 }},
		{"zero global rate", func(c *Config) { c.RateLimit.GlobalPerSec = 0 }},
		{"zero block duration", func(c *Config) { c.RateLimit.BlockDuration = 0 }},
		{"zero event queue", func(c *Config) { c.RateLimit.MaxEventQueue = 0 }},
		{"zero dedup window", func(c *Config) { c.Dedup.RequestWindow = 0 }},
		{"zero check interval", func(c *Config) { c.Timer.CheckInterval = 0 }},
		{"zero countdown interval", func(c *Config) { c.Timer.CountdownBroadcastInterval = 0 }},
		{"final warning above warning", func(c *Config) { c.Timer.FinalWarningThreshold = time.Minute }},
		{"zero room max age", func(c *Config) { c.Timer.InactiveRoomMaxAge = 0 }},
		{"single-player minimum", func(c *Config) { c.Game.MinPlayers = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
