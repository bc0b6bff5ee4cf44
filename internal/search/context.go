package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"kiromemory/internal/category"
	"kiromemory/internal/scoring"
	"kiromemory/internal/store"
)

// DefaultContextBudget is the token budget used when the caller passes none.
const DefaultContextBudget = 2000

// recentContextLimit bounds the candidate pool when no query is given.
const recentContextLimit = 30

// maxContextSummaries caps the always-included recent summaries.
const maxContextSummaries = 5

// Item is one budgeted smart-context entry.
type Item struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Tokens    int     `json:"tokens"`
	Score     float64 `json:"score"`
	Source    string  `json:"source,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// SmartContext is the assembled, token-budgeted session primer.
type SmartContext struct {
	Project    string           `json:"project"`
	Query      string           `json:"query,omitempty"`
	Summaries  []*store.Summary `json:"summaries"`
	Items      []Item           `json:"items"`
	TokensUsed int              `json:"tokens_used"`
	Budget     int              `json:"budget"`
}

// BuildContext assembles the smart context for a project. With a query it
// draws candidates from hybrid search; without one it scores the most recent
// observations under the context profile, knowledge first. Up to five recent
// summaries are always included; observations are then added greedily until
// the next one would overflow the budget. Items are never split.
func (s *Searcher) BuildContext(ctx context.Context, project, query string, budget int) (*SmartContext, error) {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	out := &SmartContext{Project: project, Query: query, Budget: budget}

	summaries, err := s.store.RecentSummaries(ctx, project, maxContextSummaries)
	if err != nil {
		return nil, err
	}
	out.Summaries = summaries

	sum := 0
	for _, sm := range summaries {
		sum += summaryTokens(sm)
	}

	var candidates []Item
	if query != "" {
		results, err := s.Hybrid(ctx, query, project, recentContextLimit)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			candidates = append(candidates, observationItem(r.Observation, r.Score, r.Source))
		}
	} else {
		recent, err := s.store.RecentObservations(ctx, project, recentContextLimit)
		if err != nil {
			return nil, err
		}
		candidates = partitionAndScore(recent, project)
	}

	for _, item := range candidates {
		if sum+item.Tokens > budget {
			break
		}
		sum += item.Tokens
		out.Items = append(out.Items, item)
	}

	out.TokensUsed = sum
	if out.TokensUsed > budget {
		out.TokensUsed = budget
	}
	return out, nil
}

// partitionAndScore splits recent observations into knowledge and ordinary
// groups, scores each under the context profile, and returns knowledge first
// with both groups sorted by score.
func partitionAndScore(recent []*store.Observation, project string) []Item {
	now := time.Now().UnixMilli()

	var knowledge, normal []Item
	for _, o := range recent {
		sig := scoring.Signals{
			Recency: scoring.Recency(o.CreatedAtEpoch, now),
			Project: scoring.ProjectMatch(o.Project, project),
		}
		item := observationItem(o, scoring.Composite(sig, scoring.ContextWeights, o.Type), "")
		if category.IsKnowledgeType(o.Type) {
			knowledge = append(knowledge, item)
		} else {
			normal = append(normal, item)
		}
	}
	sortItemsByScore(knowledge)
	sortItemsByScore(normal)
	return append(knowledge, normal...)
}

func sortItemsByScore(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID > items[j].ID
	})
}

func observationItem(o *store.Observation, score float64, source string) Item {
	return Item{
		ID:        o.ID,
		Type:      o.Type,
		Title:     o.Title,
		Content:   o.Text,
		Tokens:    scoring.EstimateTokens(o.Title + o.Text),
		Score:     score,
		Source:    source,
		CreatedAt: o.CreatedAt,
	}
}

// summaryTokens prices a summary the same way observation items are priced:
// ceil(len/4) over its visible text.
func summaryTokens(sm *store.Summary) int {
	var b strings.Builder
	b.WriteString(sm.Request)
	b.WriteString(sm.Investigated)
	b.WriteString(sm.Learned)
	b.WriteString(sm.Completed)
	b.WriteString(sm.NextSteps)
	b.WriteString(sm.Notes)
	return scoring.EstimateTokens(b.String())
}
