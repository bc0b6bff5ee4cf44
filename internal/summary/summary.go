// Package summary synthesizes end-of-session digests. The template generator
// derives one from observation partitions; LLM generators ask a provider for
// a JSON draft and fall back to the template on any failure.
package summary

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"kiromemory/internal/config"
	"kiromemory/internal/logging"
	"kiromemory/internal/store"
)

// Input is the session material handed to a generator.
type Input struct {
	Session      *store.Session
	Observations []*store.Observation
	Prompts      []*store.UserPrompt
}

// Draft holds generated summary fields before persistence.
type Draft struct {
	Request      string `json:"request"`
	Investigated string `json:"investigated"`
	Learned      string `json:"learned"`
	Completed    string `json:"completed"`
	NextSteps    string `json:"next_steps"`
	Notes        string `json:"notes"`
}

// Generator produces a summary draft for a session.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (*Draft, error)
}

// NewGenerator builds the generator selected by cfg. LLM providers are
// wrapped with the template fallback; a provider that cannot be constructed
// degrades to the template immediately.
func NewGenerator(cfg config.SummaryConfig) Generator {
	log := logging.Get(logging.CategorySummary)
	switch cfg.Provider {
	case "", "template":
		return Template{}
	case "anthropic":
		p, err := newAnthropicProvider(cfg)
		if err != nil {
			log.Warnw("summary provider unavailable, using template",
				"provider", "anthropic", "error", err)
			return Template{}
		}
		return WithFallback(NewLLM(p))
	case "openai":
		p, err := newOpenAIProvider(cfg)
		if err != nil {
			log.Warnw("summary provider unavailable, using template",
				"provider", "openai", "error", err)
			return Template{}
		}
		return WithFallback(NewLLM(p))
	case "ollama":
		return WithFallback(NewLLM(newOllamaProvider(cfg)))
	default:
		log.Warnw("unknown summary provider, using template", "provider", cfg.Provider)
		return Template{}
	}
}

// WithFallback wraps primary so that any generation failure degrades to the
// template generator. The failure is logged once, naming the call site.
func WithFallback(primary Generator) Generator {
	return &fallback{primary: primary}
}

type fallback struct {
	primary Generator
}

func (f *fallback) Name() string { return f.primary.Name() }

func (f *fallback) Generate(ctx context.Context, in Input) (*Draft, error) {
	draft, err := f.primary.Generate(ctx, in)
	if err == nil {
		return draft, nil
	}
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	logging.Get(logging.CategorySummary).Warnw("summary generation failed, falling back to template",
		"provider", f.primary.Name(),
		"caller", caller,
		"error", err)
	return Template{}.Generate(ctx, in)
}
