package config

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "openai"}

// LLMConfig configures the completion collaborator.
type LLMConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=gemini openai"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model" validate:"required"`
	BaseURL           string  `yaml:"base_url,omitempty"` // openai-compatible endpoints only
	Timeout           string  `yaml:"timeout"`
	RequestsPerMinute int     `yaml:"requests_per_minute" validate:"gte=0"` // 0 = unlimited
	Temperature       float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}
