package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, 16, cfg.Collector.GroupSize)
	assert.Equal(t, 16384, cfg.Collector.MaxTokenLength)
	assert.Equal(t, 0.7, cfg.Collector.Temperature)
	assert.Equal(t, 0.9, cfg.Collector.TopP)
	assert.Equal(t, 5, cfg.Collector.MaxTurns)
	assert.True(t, cfg.Collector.ThinkingActive)
	assert.Equal(t, 3000, cfg.Collector.MaxThinkCharsHistory)
	assert.Equal(t, 24576, cfg.Collector.MaxTrajectoryTokens)
	assert.Equal(t, 100, cfg.Collector.EvalEpisodes)
	assert.Equal(t, 256, cfg.Inference.NumRequestsForEval)
	assert.Equal(t, 20, cfg.Worker.StepsPerEval)
	assert.Equal(t, "memory", cfg.Buffer.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GROUP_SIZE", "4")
	t.Setenv("TEMPERATURE", "1.1")
	t.Setenv("THINKING_ACTIVE", "false")
	t.Setenv("BACKOFF_MS", "250")
	t.Setenv("MAX_TURNS", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, 4, cfg.Collector.GroupSize)
	assert.Equal(t, 1.1, cfg.Collector.Temperature)
	assert.False(t, cfg.Collector.ThinkingActive)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.Backoff)
	assert.Equal(t, 5, cfg.Collector.MaxTurns)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := FromEnv()
	cfg.Collector.GroupSize = 0
	cfg.Collector.TopP = 1.5
	cfg.Buffer.Backend = "kafka"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "GROUP_SIZE")
	assert.Contains(t, err.Error(), "TOP_P")
	assert.Contains(t, err.Error(), "BUFFER_BACKEND")
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MAX_TRAJECTORY_TOKENS=1024\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("MAX_TRAJECTORY_TOKENS")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Collector.MaxTrajectoryTokens)
}
