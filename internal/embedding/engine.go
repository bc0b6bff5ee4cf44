// Package embedding abstracts vector generation behind a small engine
// interface. The worker tolerates running without an engine; vector search
// simply yields nothing until one is configured and backfill runs.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Engine produces fixed-dimension vectors for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector dimensionality this engine produces.
	Dimensions() int
	// Name identifies the provider and model, e.g. "ollama:nomic-embed-text".
	Name() string
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider string // none | ollama | gemini
	Model    string
	BaseURL  string
	APIKey   string
}

// NewEngine builds the configured backend. Provider "none" (or empty)
// returns nil with no error; callers treat a nil engine as "embeddings off".
func NewEngine(cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "ollama":
		return NewOllamaEngine(cfg.BaseURL, cfg.Model), nil
	case "gemini":
		return NewGeminiEngine(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths are an error rather than a silent zero.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
