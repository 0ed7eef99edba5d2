// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "fara", cfg.Agent().Dialect)
	assert.Equal(t, 100, cfg.Agent().MaxSteps)
	assert.Equal(t, 3, cfg.Agent().Guard.RepeatThreshold)
	assert.Equal(t, 6, cfg.Agent().Guard.RepeatCeiling)
	assert.Equal(t, 0.01, cfg.Agent().Guard.CoordinateGrid)
	assert.Equal(t, 120*time.Second, cfg.Agent().Timeouts.Inference)
	assert.Equal(t, time.Second, cfg.Agent().CaptureDelay)
	assert.Equal(t, ProviderOpenAI, cfg.Inference().Provider)
	assert.Equal(t, "http://127.0.0.1:8080/v1", cfg.Inference().Endpoint)
	assert.False(t, cfg.Planner().Enabled)
	assert.Equal(t, 2, cfg.Planner().EscalationBudget)
	assert.Equal(t, SandboxComputerServer, cfg.Sandbox().Type)
	assert.Equal(t, 1280, cfg.Sandbox().Browser.Width)
	assert.Equal(t, 1, cfg.Batch().Sessions)

	assert.NoError(t, cfg.Validate(), "defaults must be valid")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Agent Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		noSteps := *cfg
		noSteps.AgentCfg.MaxSteps = 0
		err := noSteps.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_steps must be a positive integer")

		lowCeiling := *cfg
		lowCeiling.AgentCfg.Guard.RepeatCeiling = 3
		err = lowCeiling.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "guard.repeat_ceiling must exceed guard.repeat_threshold")

		noTimeout := *cfg
		noTimeout.AgentCfg.Timeouts.Execution = 0
		assert.Error(t, noTimeout.Validate())
	})

	t.Run("Inference Validation", func(t *testing.T) {
		valid := LLMModelConfig{Provider: ProviderOpenAI, Model: "fara-7b"}
		assert.NoError(t, valid.Validate())

		gemini := valid
		gemini.Provider = ProviderGemini
		err := gemini.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gemini requires an api_key")
		gemini.APIKey = "k"
		assert.NoError(t, gemini.Validate())

		unknown := valid
		unknown.Provider = "anthropic"
		assert.ErrorContains(t, unknown.Validate(), "unknown provider")

		noModel := valid
		noModel.Model = ""
		assert.ErrorContains(t, noModel.Validate(), "model is required")
	})

	t.Run("Planner Validation", func(t *testing.T) {
		disabled := PlannerConfig{Enabled: false}
		assert.NoError(t, disabled.Validate(), "disabled planner config should always be valid")

		enabled := PlannerConfig{Enabled: true, EscalationBudget: -1, LLM: LLMModelConfig{Provider: ProviderOpenAI, Model: "m"}}
		assert.ErrorContains(t, enabled.Validate(), "escalation_budget cannot be negative")
	})

	t.Run("Sandbox Validation", func(t *testing.T) {
		cs := SandboxConfig{Type: SandboxComputerServer}
		assert.ErrorContains(t, cs.Validate(), "computer_server.url is required")

		br := SandboxConfig{Type: SandboxBrowser, Browser: BrowserConfig{Width: 0, Height: 720}}
		assert.Error(t, br.Validate())

		bad := SandboxConfig{Type: "vnc"}
		assert.ErrorContains(t, bad.Validate(), "unknown sandbox type")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
agent:
  dialect: uitars
  max_steps: 25
  guard:
    repeat_threshold: 4
    repeat_ceiling: 9
sandbox:
  type: browser
`)
		v := viper.New()
		SetDefaults(v) // Set defaults first
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "uitars", cfg.Agent().Dialect)
		assert.Equal(t, 25, cfg.Agent().MaxSteps)
		assert.Equal(t, 4, cfg.Agent().Guard.RepeatThreshold)
		assert.Equal(t, SandboxBrowser, cfg.Sandbox().Type)
		// Check a default value was also loaded
		assert.Equal(t, 3, cfg.Agent().Guard.UnchangedThreshold)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.max_steps", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_steps must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("planner.enabled", true)

		t.Setenv("DESKPILOT_INFERENCE_API_KEY", "inference-key")
		t.Setenv("DESKPILOT_PLANNER_API_KEY", "")
		t.Setenv("OPENROUTER_API_KEY", "router-key")
		t.Setenv("DESKPILOT_PG_PASSWORD", "pg-secret")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "inference-key", cfg.Inference().APIKey)
		assert.Equal(t, "router-key", cfg.Planner().LLM.APIKey)
		assert.Equal(t, "pg-secret", cfg.Export().Postgres.Password)
	})

	t.Run("Home Expansion", func(t *testing.T) {
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })
		t.Setenv("HOME", "/home/tester")
		v := viper.New()
		SetDefaults(v)
		v.Set("export.jsonl.path", "~/runs/steps.jsonl")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/home/tester/runs/steps.jsonl", cfg.Export().JSONL.Path)
	})
}

func TestConfigSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetAgentDialect("uitars")
	cfg.SetAgentMaxSteps(7)
	cfg.SetSandboxType(SandboxBrowser)
	cfg.SetComputerServerURL("http://10.0.0.2:8000")
	cfg.SetBrowserHeadless(false)
	cfg.SetExportJSONLPath("out.jsonl")

	assert.Equal(t, "uitars", cfg.Agent().Dialect)
	assert.Equal(t, 7, cfg.Agent().MaxSteps)
	assert.Equal(t, SandboxBrowser, cfg.Sandbox().Type)
	assert.Equal(t, "http://10.0.0.2:8000", cfg.Sandbox().ComputerServer.URL)
	assert.False(t, cfg.Sandbox().Browser.Headless)
	assert.Equal(t, "out.jsonl", cfg.Export().JSONL.Path)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "runs", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5433/runs?sslmode=disable", p.DSN())
}
