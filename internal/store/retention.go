package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"kiromemory/internal/category"
	"kiromemory/internal/logging"
)

// RetentionPolicy sets the max age in days per record class. Zero disables a
// class.
type RetentionPolicy struct {
	ObservationDays int
	SummaryDays     int
	PromptDays      int
	KnowledgeDays   int
}

// RetentionCounts reports rows deleted per class.
type RetentionCounts struct {
	Observations int64 `json:"observations"`
	Summaries    int64 `json:"summaries"`
	Prompts      int64 `json:"prompts"`
	Knowledge    int64 `json:"knowledge"`
}

// Total sums the per-class counts.
func (c RetentionCounts) Total() int64 {
	return c.Observations + c.Summaries + c.Prompts + c.Knowledge
}

const msPerDay = 86_400_000

// knowledgeExemptImportance is the facts.importance floor above which a
// knowledge row survives even an active knowledge policy.
const knowledgeExemptImportance = 4

// ApplyRetention deletes expired rows per the policy in one transaction.
// Knowledge observations are excluded from the general observation sweep;
// the knowledge sweep additionally spares rows whose facts carry
// importance >= 4.
func (s *Store) ApplyRetention(ctx context.Context, p RetentionPolicy) (*RetentionCounts, error) {
	now := nowMs()
	counts := &RetentionCounts{}

	knowledge := category.KnowledgeTypes()
	knowledgePlaceholders := strings.Repeat("?,", len(knowledge))
	knowledgePlaceholders = knowledgePlaceholders[:len(knowledgePlaceholders)-1]

	var expiredKnowledge []int64
	if p.KnowledgeDays > 0 {
		cutoff := now - int64(p.KnowledgeDays)*msPerDay
		args := make([]any, 0, len(knowledge)+1)
		for _, t := range knowledge {
			args = append(args, t)
		}
		args = append(args, cutoff)
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, facts FROM observations
			WHERE type IN (`+knowledgePlaceholders+`) AND created_at_epoch < ?`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to list expired knowledge: %w", err)
		}
		for rows.Next() {
			var id int64
			var facts string
			if err := rows.Scan(&id, &facts); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan expired knowledge: %w", err)
			}
			if factsImportance(facts) >= knowledgeExemptImportance {
				continue
			}
			expiredKnowledge = append(expiredKnowledge, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if p.ObservationDays > 0 {
			cutoff := now - int64(p.ObservationDays)*msPerDay
			args := make([]any, 0, len(knowledge)+1)
			args = append(args, cutoff)
			for _, t := range knowledge {
				args = append(args, t)
			}
			res, err := tx.ExecContext(ctx, `
				DELETE FROM observations
				WHERE created_at_epoch < ? AND type NOT IN (`+knowledgePlaceholders+`)`, args...)
			if err != nil {
				return fmt.Errorf("failed to delete expired observations: %w", err)
			}
			counts.Observations, _ = res.RowsAffected()
		}

		if p.SummaryDays > 0 {
			cutoff := now - int64(p.SummaryDays)*msPerDay
			res, err := tx.ExecContext(ctx,
				"DELETE FROM summaries WHERE created_at_epoch < ?", cutoff)
			if err != nil {
				return fmt.Errorf("failed to delete expired summaries: %w", err)
			}
			counts.Summaries, _ = res.RowsAffected()
		}

		if p.PromptDays > 0 {
			cutoff := now - int64(p.PromptDays)*msPerDay
			res, err := tx.ExecContext(ctx,
				"DELETE FROM user_prompts WHERE created_at_epoch < ?", cutoff)
			if err != nil {
				return fmt.Errorf("failed to delete expired prompts: %w", err)
			}
			counts.Prompts, _ = res.RowsAffected()
		}

		if len(expiredKnowledge) > 0 {
			placeholders := strings.Repeat("?,", len(expiredKnowledge))
			placeholders = placeholders[:len(placeholders)-1]
			args := make([]any, len(expiredKnowledge))
			for i, id := range expiredKnowledge {
				args[i] = id
			}
			res, err := tx.ExecContext(ctx,
				"DELETE FROM observations WHERE id IN ("+placeholders+")", args...)
			if err != nil {
				return fmt.Errorf("failed to delete expired knowledge: %w", err)
			}
			counts.Knowledge, _ = res.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if counts.Total() > 0 {
		logging.Get(logging.CategoryStore).Infow("retention applied",
			"observations", counts.Observations, "summaries", counts.Summaries,
			"prompts", counts.Prompts, "knowledge", counts.Knowledge)
	}
	return counts, nil
}

// factsImportance extracts facts.importance, tolerating malformed JSON and
// both numeric and string encodings. Absent or unreadable importance is 0.
func factsImportance(facts string) int {
	if facts == "" {
		return 0
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(facts), &payload); err != nil {
		return 0
	}
	raw, ok := payload["importance"]
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64); ferr == nil {
			return int(f)
		}
	}
	return 0
}
