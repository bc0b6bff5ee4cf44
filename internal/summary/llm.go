package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
)

const (
	completionTimeout   = 30 * time.Second
	completionMaxTokens = 1024
	maxRetries          = 3
	initialBackoff      = 1 * time.Second

	promptMaxObservations = 50
	promptMaxPrompts      = 10
	promptClipChars       = 240
)

const promptPreamble = `Summarize this developer work session. Respond with one JSON object and nothing else. Use exactly these string fields: "request", "investigated", "learned", "completed", "next_steps", "notes". Put one entry per line inside a field; use "" when a field has nothing.`

// Provider returns raw model output for a prompt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLM prompts a provider and parses its JSON reply into a Draft.
type LLM struct {
	provider       Provider
	maxRetries     int
	initialBackoff time.Duration
}

// NewLLM wraps a provider with the standard retry policy.
func NewLLM(p Provider) *LLM {
	return &LLM{provider: p, maxRetries: maxRetries, initialBackoff: initialBackoff}
}

// Name identifies the underlying provider.
func (g *LLM) Name() string { return g.provider.Name() }

// Generate renders the fixed prompt, asks the provider and parses the JSON
// object it returns. The whole exchange is bounded by completionTimeout.
func (g *LLM) Generate(ctx context.Context, in Input) (*Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	raw, err := g.complete(ctx, buildPrompt(in))
	if err != nil {
		return nil, err
	}
	return parseDraft(raw)
}

// complete retries retryable provider failures with exponential backoff.
func (g *LLM) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := g.provider.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

// buildPrompt lays out the session material under the fixed preamble. Long
// sessions are bounded to the most recent observations and the earliest
// prompts, each entry clipped.
func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n")

	if in.Session != nil {
		fmt.Fprintf(&b, "\nProject: %s\n", in.Session.Project)
		if in.Session.UserPrompt != "" {
			fmt.Fprintf(&b, "Request: %s\n", clip(in.Session.UserPrompt, promptClipChars))
		}
	}

	obs := in.Observations
	if len(obs) > promptMaxObservations {
		obs = obs[len(obs)-promptMaxObservations:]
	}
	if len(obs) > 0 {
		b.WriteString("\nObservations (oldest first):\n")
		for _, o := range obs {
			line := o.Title
			if o.Narrative != "" {
				line += " :: " + o.Narrative
			} else if o.Text != "" {
				line += " :: " + o.Text
			}
			fmt.Fprintf(&b, "- [%s] %s\n", o.Type, clip(line, promptClipChars))
		}
	}

	prompts := in.Prompts
	if len(prompts) > promptMaxPrompts {
		prompts = prompts[:promptMaxPrompts]
	}
	if len(prompts) > 0 {
		b.WriteString("\nUser prompts:\n")
		for _, p := range prompts {
			fmt.Fprintf(&b, "%d. %s\n", p.PromptNumber, clip(p.PromptText, promptClipChars))
		}
	}
	return b.String()
}

// parseDraft extracts the JSON object from the model output (tolerating
// fenced or prose-wrapped replies) and requires every summary field.
func parseDraft(raw string) (*Draft, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in model output")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("model output is not valid JSON: %w", err)
	}

	d := &Draft{}
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"request", &d.Request},
		{"investigated", &d.Investigated},
		{"learned", &d.Learned},
		{"completed", &d.Completed},
		{"next_steps", &d.NextSteps},
		{"notes", &d.Notes},
	} {
		rawField, ok := fields[f.key]
		if !ok {
			return nil, fmt.Errorf("model output missing field %q", f.key)
		}
		if err := json.Unmarshal(rawField, f.dst); err != nil {
			return nil, fmt.Errorf("model output field %q is not a string: %w", f.key, err)
		}
	}
	return d, nil
}

// clip collapses whitespace and cuts s at a rune boundary.
func clip(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// providerStatusError is a non-2xx reply from an HTTP provider.
type providerStatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *providerStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// isRetryable treats timeouts, rate limits and server errors as transient;
// context cancellation and client errors are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var statusErr *providerStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	return false
}
