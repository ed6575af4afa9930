package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DEFGEN_CATALOG", "DEFGEN_TOKEN_BUDGET", "GEMINI_API_KEY", "OPENAI_API_KEY", "DEFGEN_TELEMETRY_PATH", "DEFGEN_LISTEN"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "defgen", cfg.Name)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 2400, cfg.Assembly.TokenBudget)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Validation.FastFail = true
	cfg.Validation.CategoryThresholds["essence"] = 0.8

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", loaded.LLM.Provider)
	assert.Equal(t, "sk-test", loaded.LLM.APIKey)
	assert.True(t, loaded.Validation.FastFail)
	assert.Equal(t, 0.8, loaded.Validation.CategoryThresholds["essence"])
}

func TestConfig_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assembly:\n  token_budget: 900\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Assembly.TokenBudget)
	assert.Equal(t, 4, cfg.Assembly.Workers)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEFGEN_CATALOG", "/etc/defgen/rules.toml")
	t.Setenv("DEFGEN_TOKEN_BUDGET", "1500")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("DEFGEN_TELEMETRY_PATH", "/tmp/events.jsonl")
	t.Setenv("DEFGEN_LISTEN", ":9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/etc/defgen/rules.toml", cfg.Catalog.Path)
	assert.Equal(t, 1500, cfg.Assembly.TokenBudget)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/events.jsonl", cfg.Telemetry.JSONLPath)
	assert.Equal(t, ":9999", cfg.Server.Listen)

	t.Run("gemini key wins", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, "g-key", cfg.LLM.APIKey)
	})

	t.Run("bad budget", func(t *testing.T) {
		t.Setenv("DEFGEN_TOKEN_BUDGET", "lots")
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.Assembly.TokenBudget = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "zai" }},
		{"unknown category threshold", func(c *Config) { c.Validation.CategoryThresholds["style"] = 0.5 }},
		{"threshold above one", func(c *Config) { c.Validation.OverallThreshold = 1.5 }},
		{"zero category weight", func(c *Config) { c.Validation.CategoryWeights["essence"] = 0 }},
		{"unknown severity", func(c *Config) { c.Validation.SeverityMultipliers["fatal"] = 0.1 }},
		{"critical multiplier", func(c *Config) { c.Validation.SeverityMultipliers["critical"] = 0.5 }},
		{"unknown sink", func(c *Config) { c.Telemetry.Sinks = []string{"kafka"} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"empty listen", func(c *Config) { c.Server.Listen = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetMatchTimeout())

	cfg.LLM.Timeout = "soon"
	cfg.Catalog.MatchTimeout = "-1s"
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetMatchTimeout())

	cfg.LLM.Timeout = "5s"
	assert.Equal(t, 5*time.Second, cfg.GetLLMTimeout())
}

func TestConfig_RequireLLM(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.RequireLLM())
	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.RequireLLM())
}

func TestLoggingConfig(t *testing.T) {
	lc := LoggingConfig{Categories: map[string]bool{"api": false}}
	assert.False(t, lc.IsCategoryEnabled("api"))
	assert.True(t, lc.IsCategoryEnabled("catalog"))
	assert.Equal(t, []string{"stderr"}, lc.OutputPaths())
	lc.File = "/var/log/defgen.log"
	assert.Equal(t, []string{"/var/log/defgen.log"}, lc.OutputPaths())
}
