package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/store"
)

const validDraftJSON = `{"request":"add retries","investigated":"fetcher.go","learned":"backoff caps help","completed":"retry loop","next_steps":"tune the cap","notes":"3 observations"}`

// scriptedProvider replays canned outcomes, one per call.
type scriptedProvider struct {
	outputs    []string
	errs       []error
	calls      int
	lastPrompt string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, prompt string) (string, error) {
	i := p.calls
	p.calls++
	p.lastPrompt = prompt
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.outputs) {
		return p.outputs[i], nil
	}
	return "", errors.New("script exhausted")
}

func testLLM(p Provider) *LLM {
	return &LLM{provider: p, maxRetries: maxRetries, initialBackoff: time.Millisecond}
}

func TestParseDraft(t *testing.T) {
	d, err := parseDraft(validDraftJSON)
	require.NoError(t, err)

	assert.Equal(t, "add retries", d.Request)
	assert.Equal(t, "fetcher.go", d.Investigated)
	assert.Equal(t, "backoff caps help", d.Learned)
	assert.Equal(t, "retry loop", d.Completed)
	assert.Equal(t, "tune the cap", d.NextSteps)
	assert.Equal(t, "3 observations", d.Notes)
}

func TestParseDraftStripsWrapping(t *testing.T) {
	raw := "Here is the summary:\n```json\n" + validDraftJSON + "\n```\nDone."
	d, err := parseDraft(raw)
	require.NoError(t, err)
	assert.Equal(t, "add retries", d.Request)
}

func TestParseDraftErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"no object", "the session went well", "no JSON object"},
		{"bad json", "{request: oops}", "not valid JSON"},
		{"missing field", `{"request":"x"}`, `missing field "investigated"`},
		{"non-string field", `{"request":1,"investigated":"","learned":"","completed":"","next_steps":"","notes":""}`, `field "request" is not a string`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := parseDraft(c.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestLLMGeneratorRoundTrip(t *testing.T) {
	p := &scriptedProvider{outputs: []string{validDraftJSON}}
	in := Input{
		Session: &store.Session{Project: "api", UserPrompt: "add retry to the fetcher"},
		Observations: []*store.Observation{
			{Type: "file-read", Title: "Read fetcher.go"},
		},
	}

	d, err := testLLM(p).Generate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "add retries", d.Request)
	assert.Equal(t, 1, p.calls)
	assert.Contains(t, p.lastPrompt, "Respond with one JSON object")
	assert.Contains(t, p.lastPrompt, "Project: api")
	assert.Contains(t, p.lastPrompt, "[file-read] Read fetcher.go")
}

func TestLLMRetriesTransientFailures(t *testing.T) {
	p := &scriptedProvider{
		errs:    []error{&providerStatusError{Provider: "openai", Status: 500}, &providerStatusError{Provider: "openai", Status: 429}},
		outputs: []string{"", "", validDraftJSON},
	}

	d, err := testLLM(p).Generate(context.Background(), Input{})
	require.NoError(t, err)

	assert.Equal(t, "add retries", d.Request)
	assert.Equal(t, 3, p.calls)
}

func TestLLMStopsOnNonRetryable(t *testing.T) {
	p := &scriptedProvider{errs: []error{&providerStatusError{Provider: "openai", Status: 400}}}

	_, err := testLLM(p).Generate(context.Background(), Input{})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestLLMExhaustsRetries(t *testing.T) {
	fail := &providerStatusError{Provider: "ollama", Status: 503}
	p := &scriptedProvider{errs: []error{fail, fail, fail, fail}}

	_, err := testLLM(p).Generate(context.Background(), Input{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, 4, p.calls)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"net timeout", timeoutErr{}, true},
		{"rate limited", &providerStatusError{Status: 429}, true},
		{"server error", &providerStatusError{Status: 503}, true},
		{"client error", &providerStatusError{Status: 404}, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped status", fmt.Errorf("call: %w", &providerStatusError{Status: 500}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, isRetryable(c.err))
		})
	}
}

func TestBuildPromptBounds(t *testing.T) {
	var obs []*store.Observation
	for i := 0; i < 60; i++ {
		obs = append(obs, &store.Observation{Type: "command", Title: fmt.Sprintf("obs-%02d", i)})
	}
	var prompts []*store.UserPrompt
	for i := 0; i < 15; i++ {
		prompts = append(prompts, &store.UserPrompt{PromptNumber: i + 1, PromptText: fmt.Sprintf("pt-%02d", i)})
	}

	prompt := buildPrompt(Input{Observations: obs, Prompts: prompts})

	assert.NotContains(t, prompt, "obs-09")
	assert.Contains(t, prompt, "obs-10")
	assert.Contains(t, prompt, "obs-59")
	assert.Contains(t, prompt, "pt-09")
	assert.NotContains(t, prompt, "pt-10")
}

func TestBuildPromptClipsLongEntries(t *testing.T) {
	obs := []*store.Observation{
		{Type: "file-read", Title: "big file", Text: strings.Repeat("x", 1000)},
	}

	prompt := buildPrompt(Input{Observations: obs})

	assert.Contains(t, prompt, "...")
	assert.NotContains(t, prompt, strings.Repeat("x", 400))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a b c", clip("a\n\n  b\tc", 50))
	assert.Equal(t, "abc", clip("abc", 3))

	cut := clip(strings.Repeat("é", 200), 241)
	assert.True(t, utf8.ValidString(cut))
	assert.True(t, strings.HasSuffix(cut, "..."))
}

func TestWithFallbackDegradesToTemplate(t *testing.T) {
	p := &scriptedProvider{errs: []error{&providerStatusError{Provider: "openai", Status: 400}}}
	gen := WithFallback(testLLM(p))

	in := Input{
		Observations: []*store.Observation{{Type: "file-read", Title: "Read store.go"}},
	}
	d, err := gen.Generate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "Read store.go", d.Investigated)
	assert.Equal(t, "scripted", gen.Name())
	assert.Equal(t, 1, p.calls)
}

func TestWithFallbackPassesThroughSuccess(t *testing.T) {
	p := &scriptedProvider{outputs: []string{validDraftJSON}}
	gen := WithFallback(testLLM(p))

	d, err := gen.Generate(context.Background(), Input{})
	require.NoError(t, err)

	assert.Equal(t, "add retries", d.Request)
}
