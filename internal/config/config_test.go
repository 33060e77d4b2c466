package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxConcurrentAgents)
	assert.Equal(t, 60, cfg.RateLimit.MaxRequestsPerMinute)
	assert.Equal(t, "127.0.0.1:4317", cfg.HTTPAddr)
	assert.Contains(t, cfg.DangerousCommands, "mkfs")
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("AGENTZ_MAX_CONCURRENT_AGENTS", "7")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxConcurrentAgents)
}

func TestValidateRejectsBufferExceedingSize(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.MaxOutputBufferBytes = cfg.MaxOutputSizeBytes + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsStartupNotLessThanCLITimeout(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.CLIStartupTimeout = cfg.CLITimeout
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMaxConcurrentAgents(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.MaxConcurrentAgents = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMinuteTokensExceedingHourTokens(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.RateLimit.MaxTokensPerMinute = cfg.RateLimit.MaxTokensPerHour + 1
	assert.Error(t, cfg.Validate())
}
