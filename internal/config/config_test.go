package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
game:
  batch_size: 5
  scoring:
    medium: {correct: 120, wrong: -25}
quota:
  daily_limit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Game.BatchSize)
	assert.Equal(t, 10, cfg.Quota.DailyLimit)
	assert.Equal(t, Scoring{Correct: 120, Wrong: -25}, cfg.Game.Scoring["medium"])
	// untouched defaults survive
	assert.Equal(t, "1500ms", cfg.Game.RevealGrace)
	assert.Equal(t, "48h", cfg.Quota.Expiry)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("QUOTA_DAILY_LIMIT", "3")
	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Quota.DailyLimit)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
}
