// Package search layers ranked retrieval over the store: hybrid full-text +
// vector search under the search weight profile, and the token-budgeted
// smart context used to prime agent sessions.
package search

import (
	"context"
	"sort"
	"time"

	"kiromemory/internal/embedding"
	"kiromemory/internal/logging"
	"kiromemory/internal/scoring"
	"kiromemory/internal/store"
)

// Source labels which index produced a hybrid result.
const (
	SourceFTS    = "fts"
	SourceVector = "vector"
	SourceBoth   = "both"
)

// Result is one scored hybrid search hit.
type Result struct {
	Observation *store.Observation `json:"observation"`
	Score       float64            `json:"score"`
	Source      string             `json:"source"`
	Signals     scoring.Signals    `json:"signals"`
}

// Searcher runs retrieval against a store, optionally with a vector engine.
// A nil engine degrades hybrid search to full-text only.
type Searcher struct {
	store  *store.Store
	engine embedding.Engine
}

// New builds a Searcher. engine may be nil.
func New(st *store.Store, engine embedding.Engine) *Searcher {
	return &Searcher{store: st, engine: engine}
}

// Hybrid runs full-text and vector retrieval over the same project scope and
// limit, scores both sides under the search profile, merges by observation
// id keeping the higher score, and returns the top results sorted by score.
func (s *Searcher) Hybrid(ctx context.Context, query, project string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UnixMilli()

	ranked, err := s.store.SearchObservationsRanked(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}

	merged := make(map[int64]*Result, len(ranked))
	for _, m := range ranked {
		o := m.Observation
		sig := scoring.Signals{
			Recency: scoring.Recency(o.CreatedAtEpoch, now),
			Project: scoring.ProjectMatch(o.Project, project),
			FTS:     scoring.FTSRank(m.Rank),
		}
		merged[o.ID] = &Result{
			Observation: o,
			Score:       scoring.Composite(sig, scoring.SearchWeights, o.Type),
			Source:      SourceFTS,
			Signals:     sig,
		}
	}

	for _, m := range s.semanticLeg(ctx, query, project, limit) {
		o := m.Observation
		sig := scoring.Signals{
			Recency:  scoring.Recency(o.CreatedAtEpoch, now),
			Project:  scoring.ProjectMatch(o.Project, project),
			Semantic: scoring.Semantic(m.Similarity),
		}
		score := scoring.Composite(sig, scoring.SearchWeights, o.Type)

		if prior, ok := merged[o.ID]; ok {
			prior.Source = SourceBoth
			prior.Signals.Semantic = sig.Semantic
			if score > prior.Score {
				prior.Score = score
			}
		} else {
			merged[o.ID] = &Result{
				Observation: o,
				Score:       score,
				Source:      SourceVector,
				Signals:     sig,
			}
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Observation.CreatedAtEpoch != out[j].Observation.CreatedAtEpoch {
			return out[i].Observation.CreatedAtEpoch > out[j].Observation.CreatedAtEpoch
		}
		return out[i].Observation.ID > out[j].Observation.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// semanticLeg embeds the query and scans stored vectors. Any failure is
// logged and degrades to an empty leg; hybrid search must not fail because
// the embedding provider is down.
func (s *Searcher) semanticLeg(ctx context.Context, query, project string, limit int) []store.SemanticMatch {
	if s.engine == nil || query == "" {
		return nil
	}
	vec, err := s.engine.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategorySearch).Warnw("query embedding failed, full-text only",
			"engine", s.engine.Name(), "error", err)
		return nil
	}
	matches, err := s.store.SemanticSearch(ctx, vec, project, limit)
	if err != nil {
		logging.Get(logging.CategorySearch).Warnw("vector scan failed, full-text only",
			"error", err)
		return nil
	}
	return matches
}
