// Package llm holds the completion services a generation request talks to.
// They sit outside the assembly and validation core: the core only needs
// something that turns an instruction into candidate text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defgen/internal/config"
)

// ErrEmptyCompletion is returned when a provider answers without text.
var ErrEmptyCompletion = errors.New("llm returned no text")

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completion is the provider's answer.
type Completion struct {
	Text         string        `json:"text"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Completer turns an instruction into candidate text.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Name() string
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Completion, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}

// Name reports "func".
func (f CompleterFunc) Name() string { return "func" }

// NewFromConfig builds the configured provider, rate limited when
// RequestsPerMinute is set.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key not configured for provider %s", cfg.Provider)
	}

	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case "gemini", "":
		c, err = NewGeminiCompleter(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		c, err = NewOpenAICompleter(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRateLimit(c, cfg.RequestsPerMinute), nil
}
