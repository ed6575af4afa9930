package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all defgen configuration.
type Config struct {
	Name string `yaml:"name"`

	// Rule catalog source and reload behaviour
	Catalog CatalogConfig `yaml:"catalog"`

	// Instruction assembly
	Assembly AssemblyConfig `yaml:"assembly"`

	// Context classification
	Classifier ClassifierConfig `yaml:"classifier"`

	// Rule validation and acceptance gate
	Validation ValidationConfig `yaml:"validation"`

	// LLM collaborator
	LLM LLMConfig `yaml:"llm"`

	// Telemetry sinks
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// HTTP surface
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CatalogConfig selects the rule catalog.
type CatalogConfig struct {
	Path         string `yaml:"path"` // empty = embedded default catalog
	Watch        bool   `yaml:"watch"`
	MatchTimeout string `yaml:"match_timeout"`
}

// AssemblyConfig configures the module orchestrator.
type AssemblyConfig struct {
	TokenBudget  int  `yaml:"token_budget" validate:"gt=0"`
	Workers      int  `yaml:"workers" validate:"gte=1"`
	CacheEnabled bool `yaml:"cache_enabled"`
}

// ClassifierConfig configures the context classifier.
type ClassifierConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gt=0,lte=1"`
	LengthSaturation    int     `yaml:"length_saturation" validate:"gt=0"`
	ComplexityThreshold float64 `yaml:"complexity_threshold" validate:"gte=0,lte=1"`
}

// TelemetryConfig configures where validation events go.
type TelemetryConfig struct {
	Sinks      []string `yaml:"sinks" validate:"dive,oneof=jsonl sqlite prometheus memory"`
	JSONLPath  string   `yaml:"jsonl_path"`
	SQLitePath string   `yaml:"sqlite_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen       string `yaml:"listen" validate:"required"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "defgen",

		Catalog: CatalogConfig{
			MatchTimeout: "100ms",
		},

		Assembly: AssemblyConfig{
			TokenBudget:  2400,
			Workers:      4,
			CacheEnabled: true,
		},

		Classifier: ClassifierConfig{
			ConfidenceThreshold: 0.55,
			LengthSaturation:    600,
			ComplexityThreshold: 0.5,
		},

		Validation: DefaultValidationConfig(),

		LLM: LLMConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-flash",
			Timeout:           "60s",
			RequestsPerMinute: 30,
			Temperature:       0.2,
		},

		Telemetry: TelemetryConfig{
			Sinks:      []string{"jsonl", "prometheus"},
			JSONLPath:  "data/telemetry.jsonl",
			SQLitePath: "data/telemetry.db",
		},

		Server: ServerConfig{
			Listen:       "127.0.0.1:8088",
			ReadTimeout:  "15s",
			WriteTimeout: "90s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if path := os.Getenv("DEFGEN_CATALOG"); path != "" {
		c.Catalog.Path = path
	}
	if raw := os.Getenv("DEFGEN_TOKEN_BUDGET"); raw != "" {
		budget, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("DEFGEN_TOKEN_BUDGET: %w", err)
		}
		c.Assembly.TokenBudget = budget
	}

	// API keys: the last one set wins, matching the provider it belongs to.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if path := os.Getenv("DEFGEN_TELEMETRY_PATH"); path != "" {
		c.Telemetry.JSONLPath = path
	}
	if addr := os.Getenv("DEFGEN_LISTEN"); addr != "" {
		c.Server.Listen = addr
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetMatchTimeout returns the per-match timeout for extended matchers.
func (c *Config) GetMatchTimeout() time.Duration {
	return parseDuration(c.Catalog.MatchTimeout, 100*time.Millisecond)
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 90*time.Second)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Validation.check()
}

// RequireLLM reports whether the LLM collaborator can be constructed.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}
