package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesFinish(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Finish())
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "runs"), cfg.RunsDir)
	assert.Contains(t, cfg.ShellAllowList, "ls")
	assert.NotContains(t, cfg.ShellAllowList, "rm")
	assert.NotContains(t, cfg.ShellAllowList, "curl")
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("ROWAN_KEY_URL", "https://keys.example.com")
	t.Setenv("ROWAN_APP_TOKEN", "tok")
	t.Setenv("JULIA_BIN", "/opt/julia/bin/julia")
	t.Setenv("ROWAN_RUNS_DIR", "/tmp/rowan-runs")
	t.Setenv("ROWAN_TURN_LIMIT", "7")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "https://keys.example.com", cfg.KeyServerURL)
	assert.Equal(t, "tok", cfg.AppToken)
	assert.Equal(t, "/opt/julia/bin/julia", cfg.JuliaBin)
	assert.Equal(t, "/tmp/rowan-runs", cfg.RunsDir)
	assert.Equal(t, 7, cfg.TurnLimit)
}

func TestApplyEnv_RejectsBadTurnLimit(t *testing.T) {
	for _, bad := range []string{"zero", "-1", "0"} {
		t.Setenv("ROWAN_TURN_LIMIT", bad)
		cfg := Default()
		assert.Error(t, cfg.ApplyEnv(), "value %q", bad)
	}
}

func TestFinish_Bounds(t *testing.T) {
	cfg := Default()
	cfg.TurnLimit = 0
	assert.Error(t, cfg.Finish())

	cfg = Default()
	cfg.ExecTimeoutSecs = 0
	assert.Error(t, cfg.Finish())

	cfg = Default()
	cfg.ShellAllowList = nil
	assert.Error(t, cfg.Finish())
}

func TestValidateSettings(t *testing.T) {
	ok := map[string]any{
		"model":      "gpt-5",
		"turn_limit": 10,
	}
	assert.NoError(t, ValidateSettings(ok))

	unknown := map[string]any{"modle": "gpt-5"}
	assert.Error(t, ValidateSettings(unknown), "unknown keys must be rejected")

	badType := map[string]any{"turn_limit": "ten"}
	assert.Error(t, ValidateSettings(badType))
}

func TestEventIdleTimeout(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.EventIdleTimeout().Seconds(), 300.0)
	cfg.EventIdleSecs = 0
	assert.Equal(t, cfg.EventIdleTimeout().Minutes(), 5.0)
}
