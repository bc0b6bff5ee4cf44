package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/config"
)

func TestOpenAIProviderComplete(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	p, err := newOpenAIProvider(config.SummaryConfig{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), "summarize")
	require.NoError(t, err)

	assert.Equal(t, "hello", out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, defaultOpenAIModel, gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "summarize", gotReq.Messages[0].Content)
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	_, err := newOpenAIProvider(config.SummaryConfig{Provider: "openai"})
	assert.Error(t, err)
}

func TestOpenAIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := newOpenAIProvider(config.SummaryConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "x")
	require.Error(t, err)

	var statusErr *providerStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Status)
	assert.True(t, isRetryable(err))
}

func TestOllamaProviderComplete(t *testing.T) {
	var gotPath string
	var gotReq ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"{\"ok\":true}"}`))
	}))
	defer srv.Close()

	p := newOllamaProvider(config.SummaryConfig{Provider: "ollama", BaseURL: srv.URL, Model: "qwen2.5"})

	out, err := p.Complete(context.Background(), "summarize")
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "/api/generate", gotPath)
	assert.Equal(t, "qwen2.5", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, "json", gotReq.Format)
}

func TestOllamaProviderEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":""}`))
	}))
	defer srv.Close()

	p := newOllamaProvider(config.SummaryConfig{BaseURL: srv.URL})

	_, err := p.Complete(context.Background(), "x")
	assert.Error(t, err)
}

func TestOllamaProviderDefaults(t *testing.T) {
	p := newOllamaProvider(config.SummaryConfig{})
	assert.Equal(t, defaultOllamaURL, p.baseURL)
	assert.Equal(t, defaultOllamaChatModel, p.model)
}

func TestAnthropicProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-20241022",
			"content": [{"type": "text", "text": "{\"done\":true}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p, err := newAnthropicProvider(config.SummaryConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "anthropic:"+defaultAnthropicModel, p.Name())

	out, err := p.Complete(context.Background(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, `{"done":true}`, out)
}

func TestAnthropicProviderRequiresKey(t *testing.T) {
	_, err := newAnthropicProvider(config.SummaryConfig{})
	assert.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.SummaryConfig
		want string
	}{
		{"default", config.SummaryConfig{}, "template"},
		{"template", config.SummaryConfig{Provider: "template"}, "template"},
		{"anthropic without key", config.SummaryConfig{Provider: "anthropic"}, "template"},
		{"anthropic", config.SummaryConfig{Provider: "anthropic", APIKey: "k"}, "anthropic:" + defaultAnthropicModel},
		{"openai", config.SummaryConfig{Provider: "openai", APIKey: "k", Model: "gpt-4.1"}, "openai:gpt-4.1"},
		{"ollama", config.SummaryConfig{Provider: "ollama"}, "ollama:" + defaultOllamaChatModel},
		{"unknown", config.SummaryConfig{Provider: "mystery"}, "template"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, NewGenerator(c.cfg).Name())
		})
	}
}
