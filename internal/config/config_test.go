package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	assert.Equal(t, "gpt-3.5-turbo", c.LLM.Model)
	assert.Equal(t, AgentReact, c.Agent.Mode)
	assert.Equal(t, 3, c.Agent.MaxRetries)
	assert.Equal(t, 10, c.Agent.MaxSteps)
	assert.Equal(t, 30*time.Second, c.Relay.Timeout)
	assert.Equal(t, "csv", c.Prompt.TableFormat)
	assert.Equal(t, 3000, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, "info", c.Log.Level)
	assert.NotEmpty(t, c.Store.Path)
}

func TestLoadFromYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  model: gpt-4.1\n  timeout: 45s\ntarget:\n  spec: ./openapi.json\nagent:\n  mode: naive\nrelay:\n  rate_limit: 2.5\nserver:\n  port: 8080\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "./openapi.json", cfg.Target.Spec)
	assert.Equal(t, AgentNaive, cfg.Agent.Mode)
	assert.Equal(t, 2.5, cfg.Relay.RateLimit)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, AgentReact, cfg.Agent.Mode)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APICHAT_AGENT_MODE", "naive")
	t.Setenv("APICHAT_LLM_API_KEY", "sk-env")
	t.Setenv("APICHAT_RELAY_TIMEOUT", "5s")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, AgentNaive, cfg.Agent.Mode)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Relay.Timeout)
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("llm: [unterminated"), 0o644))
	_, err := Load(cfgPath)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	require.NoError(t, c.Validate())

	require.Error(t, c.ValidateChat(), "spec and api key are required for chat")
	c.Target.Spec = "openapi.json"
	c.LLM.APIKey = "sk"
	require.NoError(t, c.ValidateChat())

	c.Agent.Mode = "planner"
	require.Error(t, c.Validate())

	c.Agent.Mode = AgentNaive
	c.Prompt.TableFormat = "xml"
	require.Error(t, c.Validate())
}
