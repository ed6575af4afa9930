package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defgen/internal/config"
)

func chatServer(t *testing.T, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompleter(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, "  activiteit waarbij gegevens worden vastgelegd \n", &body)

	c, err := NewOpenAICompleter("test-key", "gpt-test", srv.URL+"/v1/")
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), Request{System: "rol", Prompt: "definieer registratie", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "activiteit waarbij gegevens worden vastgelegd", got.Text)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, 12, got.InputTokens)
	assert.Equal(t, 7, got.OutputTokens)

	assert.Equal(t, "gpt-test", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "definieer registratie", msgs[1].(map[string]any)["content"])
}

func TestOpenAICompleter_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, "   ", nil)
	c, err := NewOpenAICompleter("test-key", "gpt-test", srv.URL+"/v1")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAICompleter_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewOpenAICompleter("test-key", "gpt-test", srv.URL+"/v1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithRateLimit(t *testing.T) {
	var calls atomic.Int32
	inner := CompleterFunc(func(ctx context.Context, req Request) (*Completion, error) {
		calls.Add(1)
		return &Completion{Text: req.Prompt}, nil
	})

	assert.Equal(t, Completer(inner).Name(), WithRateLimit(inner, 0).Name())

	limited := WithRateLimit(inner, 1)
	_, err := limited.Complete(context.Background(), Request{Prompt: "eerste"})
	require.NoError(t, err)

	// the next slot is a minute away
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Complete(ctx, Request{Prompt: "tweede"})
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "openai"})
	assert.Error(t, err, "missing key")

	_, err = NewFromConfig(context.Background(), config.LLMConfig{Provider: "claude", APIKey: "k"})
	assert.Error(t, err)

	c, err := NewFromConfig(context.Background(), config.LLMConfig{
		Provider: "openai", APIKey: "k", Model: "gpt-test", RequestsPerMinute: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
	_, limited := c.(*rateLimited)
	assert.True(t, limited)
}
