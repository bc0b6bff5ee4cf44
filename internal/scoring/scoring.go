// Package scoring holds the pure ranking math: per-signal normalization,
// the two weight profiles, the knowledge-type boost and token estimation.
package scoring

import "math"

// RecencyTauHours controls the exponential decay half-life of the recency
// signal. At 72h an observation one day old still scores ~0.72.
const RecencyTauHours = 72.0

// Weights is a composite scoring profile. Each weight applies to the signal
// of the same name; profiles ship normalized to sum 1.
type Weights struct {
	Recency  float64
	Project  float64
	FTS      float64
	Semantic float64
}

// SearchWeights favors relevance signals for explicit queries.
var SearchWeights = Weights{Recency: 0.15, Project: 0.10, FTS: 0.35, Semantic: 0.40}

// ContextWeights favors recency and project locality for ambient context.
var ContextWeights = Weights{Recency: 0.45, Project: 0.30, FTS: 0.15, Semantic: 0.10}

// knowledgeBoost is the fixed per-type multiplier applied after composition.
var knowledgeBoost = map[string]float64{
	"constraint": 1.3,
	"decision":   1.3,
	"heuristic":  1.2,
	"rejected":   1.1,
}

// Signals carries the normalized per-signal values for one candidate.
// Missing signals stay zero.
type Signals struct {
	Recency  float64 `json:"recency"`
	Project  float64 `json:"project"`
	FTS      float64 `json:"fts"`
	Semantic float64 `json:"semantic"`
}

// Recency maps a creation epoch to (0,1] with exponential decay.
func Recency(epochMs, nowMs int64) float64 {
	if epochMs <= 0 || epochMs >= nowMs {
		return 1.0
	}
	ageHours := float64(nowMs-epochMs) / 3_600_000.0
	return math.Exp(-ageHours / RecencyTauHours)
}

// ProjectMatch is 1 for an exact project match, 0 otherwise. An empty query
// project matches nothing in particular and scores 0.
func ProjectMatch(obsProject, queryProject string) float64 {
	if queryProject != "" && obsProject == queryProject {
		return 1.0
	}
	return 0.0
}

// FTSRank normalizes an FTS5 bm25 rank. bm25 ranks are non-positive with
// lower (more negative) values meaning better matches.
func FTSRank(rank float64) float64 {
	return clamp01(-rank / 10.0)
}

// Semantic clamps a cosine similarity into [0,1]; negative similarity does
// not penalize.
func Semantic(cosine float64) float64 {
	return clamp01(cosine)
}

// KnowledgeBoost returns the post-composition multiplier for typ.
func KnowledgeBoost(typ string) float64 {
	if b, ok := knowledgeBoost[typ]; ok {
		return b
	}
	return 1.0
}

// Composite combines the signals under the given profile, applies the
// knowledge boost for typ and clamps to [0,1].
func Composite(s Signals, w Weights, typ string) float64 {
	score := s.Recency*w.Recency + s.Project*w.Project + s.FTS*w.FTS + s.Semantic*w.Semantic
	score *= KnowledgeBoost(typ)
	return clamp01(score)
}

// EstimateTokens approximates the token cost of s at one token per four
// characters, rounding up.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
