package store

import (
	"context"
	"database/sql"
	"fmt"

	"kiromemory/internal/scoring"
)

// ObservationsAfter lists rows with id > afterID in insertion order, for
// streaming whole-table scans. Empty project or typ means no filter.
func (s *Store) ObservationsAfter(ctx context.Context, project, typ string, afterID int64, limit int) ([]*Observation, error) {
	query := "SELECT " + observationColumns + " FROM observations WHERE id > ?"
	args := []any{afterID}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, typ)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	return collectObservations(rows)
}

// SummariesAfter lists summaries with id > afterID in insertion order.
func (s *Store) SummariesAfter(ctx context.Context, project string, afterID int64, limit int) ([]*Summary, error) {
	query := "SELECT " + summaryColumns + " FROM summaries WHERE id > ?"
	args := []any{afterID}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		sm, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// PromptsAfter lists user prompts with id > afterID in insertion order.
func (s *Store) PromptsAfter(ctx context.Context, project string, afterID int64, limit int) ([]*UserPrompt, error) {
	query := "SELECT " + promptColumns + " FROM user_prompts WHERE id > ?"
	args := []any{afterID}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user prompts: %w", err)
	}
	defer rows.Close()

	var out []*UserPrompt
	for rows.Next() {
		p, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransferCounts reports exportable row counts under the same filters the
// pagers apply. A type filter scopes the export to observations alone.
func (s *Store) TransferCounts(ctx context.Context, project, typ string) (map[string]int64, error) {
	counts := make(map[string]int64, 3)

	var obs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM observations
		WHERE (? = '' OR project = ?) AND (? = '' OR type = ?)`,
		project, project, typ, typ).Scan(&obs)
	if err != nil {
		return nil, fmt.Errorf("failed to count observations: %w", err)
	}
	counts["observations"] = obs

	if typ != "" {
		counts["summaries"] = 0
		counts["prompts"] = 0
		return counts, nil
	}

	var sums int64
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM summaries WHERE (? = '' OR project = ?)",
		project, project).Scan(&sums)
	if err != nil {
		return nil, fmt.Errorf("failed to count summaries: %w", err)
	}
	counts["summaries"] = sums

	var prompts int64
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_prompts WHERE (? = '' OR project = ?)",
		project, project).Scan(&prompts)
	if err != nil {
		return nil, fmt.Errorf("failed to count user prompts: %w", err)
	}
	counts["prompts"] = prompts
	return counts, nil
}

// ImportBatch writes pre-formed rows in one transaction, preserving original
// timestamps. Session linkage is dropped because session rows do not travel
// with an export. Missing derived fields (content hash, discovery tokens,
// prompt numbers, ISO timestamps) are filled in.
func (s *Store) ImportBatch(ctx context.Context, obs []*Observation, sums []*Summary, prompts []*UserPrompt) error {
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, o := range obs {
			if o.CreatedAtEpoch == 0 {
				o.CreatedAtEpoch = nowMs()
			}
			if o.CreatedAt == "" {
				o.CreatedAt = isoFromMs(o.CreatedAtEpoch)
			}
			if o.ContentHash == "" {
				o.ContentHash = ContentHash(o.Project, o.Type, o.Title, o.Narrative)
			}
			if o.DiscoveryTokens == 0 {
				o.DiscoveryTokens = scoring.EstimateTokens(o.Text)
			}
			if o.AutoCategory == "" {
				o.AutoCategory = "general"
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO observations (
					memory_session_id, project, type, title, subtitle, text,
					narrative, facts, concepts, files_read, files_modified,
					prompt_number, created_at, created_at_epoch, content_hash,
					discovery_tokens, auto_category)
				VALUES (0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				o.Project, o.Type, o.Title, o.Subtitle, o.Text,
				o.Narrative, o.Facts, o.Concepts, o.FilesRead, o.FilesModified,
				o.PromptNumber, o.CreatedAt, o.CreatedAtEpoch, o.ContentHash,
				o.DiscoveryTokens, o.AutoCategory)
			if err != nil {
				return err
			}
		}
		for _, sm := range sums {
			if sm.CreatedAtEpoch == 0 {
				sm.CreatedAtEpoch = nowMs()
			}
			if sm.CreatedAt == "" {
				sm.CreatedAt = isoFromMs(sm.CreatedAtEpoch)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO summaries (
					session_id, project, request, investigated, learned,
					completed, next_steps, notes, created_at, created_at_epoch)
				VALUES (0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sm.Project, sm.Request, sm.Investigated, sm.Learned,
				sm.Completed, sm.NextSteps, sm.Notes, sm.CreatedAt, sm.CreatedAtEpoch)
			if err != nil {
				return err
			}
		}
		for _, p := range prompts {
			if p.CreatedAtEpoch == 0 {
				p.CreatedAtEpoch = nowMs()
			}
			if p.CreatedAt == "" {
				p.CreatedAt = isoFromMs(p.CreatedAtEpoch)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_prompts (
					content_session_id, project, prompt_number, prompt_text,
					created_at, created_at_epoch)
				VALUES (?, ?, ?, ?, ?, ?)`,
				p.ContentSessionID, p.Project, p.PromptNumber, p.PromptText,
				p.CreatedAt, p.CreatedAtEpoch)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import batch: %w", err)
	}
	return nil
}
