package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-5", cfg.LLM.Model)
	assert.Equal(t, 60, cfg.Agent.MaxIterations)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 2000, cfg.Proxy.HistoryCapacity)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: anthropic/claude-sonnet-4-5
  timeout: 60s
agent:
  max_iterations: 20
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 20, cfg.Agent.MaxIterations)
	// untouched sections keep defaults
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/strix.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Agent.MaxIterations)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  max_iterations: 20\n"), 0o644))

	t.Setenv("STRIX_AGENT_MAX_ITERATIONS", "10")
	t.Setenv("STRIX_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_WellKnownEnvNames(t *testing.T) {
	t.Setenv("STRIX_LLM", "anthropic/claude-sonnet-4-5")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_API_BASE", "http://localhost:4000")
	t.Setenv("FIRECRAWL_API_KEY", "fc-test")
	t.Setenv("STRIX_SANDBOX_MODE", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:4000", cfg.LLM.BaseURL)
	assert.Equal(t, "fc-test", cfg.Search.FirecrawlAPIKey)
	assert.True(t, cfg.Sandbox.ProcessMode)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	t.Run("missing api key", func(t *testing.T) {
		c := Default()
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LLM_API_KEY")
	})

	t.Run("local endpoint needs no key", func(t *testing.T) {
		c := Default()
		c.LLM.BaseURL = "http://localhost:11434/v1"
		assert.NoError(t, c.Validate())
	})

	t.Run("missing model", func(t *testing.T) {
		c := Default()
		c.LLM.APIKey = "sk-test"
		c.LLM.Model = ""
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "STRIX_LLM")
	})

	t.Run("warning threshold above max iterations", func(t *testing.T) {
		c := Default()
		c.LLM.APIKey = "sk-test"
		c.Agent.WarningThreshold = c.Agent.MaxIterations + 1
		assert.Error(t, c.Validate())
	})

	t.Run("process mode allows empty image", func(t *testing.T) {
		c := Default()
		c.LLM.APIKey = "sk-test"
		c.Sandbox.Image = ""
		c.Sandbox.ProcessMode = true
		assert.NoError(t, c.Validate())
	})
}
