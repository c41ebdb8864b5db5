package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryBaseDelay)
	assert.Equal(t, 20, cfg.Engine.MaxSteps)
	assert.Equal(t, 20*time.Second, cfg.Engine.ActionTimeout)
	assert.Equal(t, 1.5, cfg.Engine.TypingSettleFactor)
	assert.Equal(t, 3000, cfg.Engine.ContentLimit)
	assert.Equal(t, 60*time.Second, cfg.Engine.OracleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Bridge.HeartbeatInterval)
	assert.Equal(t, "first", cfg.Bridge.Selection)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cua.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  max_steps: 7
  page_settle_delay: 3s
llm:
  model: gpt-4o-mini
`), 0o600))

	t.Setenv("CUA_ENGINE_MAX_RETRIES", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Engine.MaxSteps)
	assert.Equal(t, 3*time.Second, cfg.Engine.PageSettleDelay)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	v := NewViper()
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	cfg.Engine.MaxRetries = 0
	cfg.Engine.MaxSteps = 0
	cfg.Bridge.Selection = "random"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_retries")
	assert.Contains(t, err.Error(), "engine.max_steps")
	assert.Contains(t, err.Error(), "bridge.selection")
}
