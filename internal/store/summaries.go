package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const summaryColumns = `id, session_id, project, request, investigated,
	learned, completed, next_steps, notes, created_at, created_at_epoch`

func scanSummary(scan func(dest ...any) error) (*Summary, error) {
	var sm Summary
	err := scan(&sm.ID, &sm.SessionID, &sm.Project, &sm.Request, &sm.Investigated,
		&sm.Learned, &sm.Completed, &sm.NextSteps, &sm.Notes, &sm.CreatedAt,
		&sm.CreatedAtEpoch)
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

// NewSummary is the insert candidate for a session summary.
type NewSummary struct {
	SessionID    int64
	Project      string
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	Notes        string
}

// InsertSummary writes a summary row.
func (s *Store) InsertSummary(ctx context.Context, n NewSummary) (*Summary, error) {
	now := nowMs()
	sm := &Summary{
		SessionID:      n.SessionID,
		Project:        n.Project,
		Request:        n.Request,
		Investigated:   n.Investigated,
		Learned:        n.Learned,
		Completed:      n.Completed,
		NextSteps:      n.NextSteps,
		Notes:          n.Notes,
		CreatedAt:      isoFromMs(now),
		CreatedAtEpoch: now,
	}
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO summaries (session_id, project, request, investigated,
				learned, completed, next_steps, notes, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sm.SessionID, sm.Project, sm.Request, sm.Investigated, sm.Learned,
			sm.Completed, sm.NextSteps, sm.Notes, sm.CreatedAt, sm.CreatedAtEpoch)
		if err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}
		sm.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return sm, nil
}

// SummaryBySession fetches the newest summary for a session; nil when the
// session has none.
func (s *Store) SummaryBySession(ctx context.Context, sessionID int64) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE session_id = ? ORDER BY created_at_epoch DESC, id DESC LIMIT 1`,
		sessionID)
	sm, err := scanSummary(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary for session %d: %w", sessionID, err)
	}
	return sm, nil
}

// RecentSummaries lists summaries newest first, optionally project-scoped.
func (s *Store) RecentSummaries(ctx context.Context, project string, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE (? = '' OR project = ?)
		ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		project, project, limit)
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

// SearchSummaries is a LIKE-based substring match over the summary text
// fields with %, _ and \ escaped, newest first.
func (s *Store) SearchSummaries(ctx context.Context, q, project string, limit int) ([]*Summary, error) {
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	pattern := "%" + esc + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE (? = '' OR project = ?)
		  AND (request LIKE ? ESCAPE '\'
		    OR investigated LIKE ? ESCAPE '\'
		    OR learned LIKE ? ESCAPE '\'
		    OR completed LIKE ? ESCAPE '\')
		ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		project, project, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search summaries: %w", err)
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

// SummariesSince lists summaries created at or after the epoch, oldest
// first.
func (s *Store) SummariesSince(ctx context.Context, project string, sinceEpoch int64) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE (? = '' OR project = ?) AND created_at_epoch >= ?
		ORDER BY created_at_epoch ASC, id ASC`,
		project, project, sinceEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries since: %w", err)
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
