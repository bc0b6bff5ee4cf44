package store

import (
	"context"
	"database/sql"
	"fmt"
)

const promptColumns = `id, content_session_id, project, prompt_number,
	prompt_text, created_at, created_at_epoch`

func scanPrompt(scan func(dest ...any) error) (*UserPrompt, error) {
	var p UserPrompt
	err := scan(&p.ID, &p.ContentSessionID, &p.Project, &p.PromptNumber,
		&p.PromptText, &p.CreatedAt, &p.CreatedAtEpoch)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertPrompt records one user prompt. The prompt number is assigned
// sequentially within the content session, starting at 1.
func (s *Store) InsertPrompt(ctx context.Context, contentSessionID, project, text string) (*UserPrompt, error) {
	now := nowMs()
	p := &UserPrompt{
		ContentSessionID: contentSessionID,
		Project:          project,
		PromptText:       text,
		CreatedAt:        isoFromMs(now),
		CreatedAtEpoch:   now,
	}
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(prompt_number), 0) + 1 FROM user_prompts WHERE content_session_id = ?",
			contentSessionID).Scan(&p.PromptNumber)
		if err != nil {
			return fmt.Errorf("failed to number prompt: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_prompts (content_session_id, project, prompt_number,
				prompt_text, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ContentSessionID, p.Project, p.PromptNumber, p.PromptText,
			p.CreatedAt, p.CreatedAtEpoch)
		if err != nil {
			return fmt.Errorf("failed to insert prompt: %w", err)
		}
		p.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PromptsBySession lists prompts for a content session in issue order.
func (s *Store) PromptsBySession(ctx context.Context, contentSessionID string) ([]*UserPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptColumns+` FROM user_prompts
		WHERE content_session_id = ? ORDER BY prompt_number ASC, id ASC`,
		contentSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var out []*UserPrompt
	for rows.Next() {
		p, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentPrompts lists prompts newest first, optionally project-scoped.
func (s *Store) RecentPrompts(ctx context.Context, project string, limit int) ([]*UserPrompt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptColumns+` FROM user_prompts
		WHERE (? = '' OR project = ?)
		ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent prompts: %w", err)
	}
	defer rows.Close()

	var out []*UserPrompt
	for rows.Next() {
		p, err := scanPrompt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
