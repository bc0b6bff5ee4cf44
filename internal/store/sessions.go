package store

import (
	"context"
	"database/sql"
	"fmt"
)

const sessionColumns = `id, content_session_id, project, user_prompt, status,
	started_at, started_at_epoch, completed_at, completed_at_epoch`

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var s Session
	var completedAt sql.NullString
	var completedEpoch sql.NullInt64
	err := scan(&s.ID, &s.ContentSessionID, &s.Project, &s.UserPrompt, &s.Status,
		&s.StartedAt, &s.StartedAtEpoch, &completedAt, &completedEpoch)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		v := completedAt.String
		s.CompletedAt = &v
	}
	if completedEpoch.Valid {
		v := completedEpoch.Int64
		s.CompletedAtEpoch = &v
	}
	return &s, nil
}

// GetOrCreateSession resolves the memory session for a content session id,
// creating an active one on first sight. Idempotent: repeated calls with the
// same content id return the same row, active or completed. The bool reports
// whether this call created the row.
func (s *Store) GetOrCreateSession(ctx context.Context, contentSessionID, project string) (*Session, bool, error) {
	existing, err := s.SessionByContentID(ctx, contentSessionID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := nowMs()
	created := false
	sess := &Session{
		ContentSessionID: contentSessionID,
		Project:          project,
		Status:           SessionActive,
		StartedAt:        isoFromMs(now),
		StartedAtEpoch:   now,
	}
	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		// Another writer may have raced us to the UNIQUE column.
		row := tx.QueryRowContext(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE content_session_id = ?",
			contentSessionID)
		found, err := scanSession(row.Scan)
		if err == nil {
			sess = found
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to look up session: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (content_session_id, project, user_prompt, status,
				started_at, started_at_epoch)
			VALUES (?, ?, '', ?, ?, ?)`,
			sess.ContentSessionID, sess.Project, sess.Status, sess.StartedAt,
			sess.StartedAtEpoch)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sess.ID, err = res.LastInsertId()
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return sess, created, nil
}

// SessionByContentID fetches a session by its content session id; nil when
// absent.
func (s *Store) SessionByContentID(ctx context.Context, contentSessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE content_session_id = ?",
		contentSessionID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %q: %w", contentSessionID, err)
	}
	return sess, nil
}

// GetSession fetches a session by numeric id; nil when absent.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %d: %w", id, err)
	}
	return sess, nil
}

// SetSessionPrompt records the first user prompt on the session row. Later
// prompts leave it untouched.
func (s *Store) SetSessionPrompt(ctx context.Context, id int64, prompt string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE sessions SET user_prompt = ? WHERE id = ? AND user_prompt = ''",
			prompt, id)
		return err
	})
}

// CompleteSession transitions a session to completed. Returns the updated
// row and whether this call performed the transition; completing an already
// completed session is a no-op that reports false.
func (s *Store) CompleteSession(ctx context.Context, id int64) (*Session, bool, error) {
	now := nowMs()
	completedAt := isoFromMs(now)
	transitioned := false
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, completed_at = ?, completed_at_epoch = ?
			WHERE id = ? AND status = ?`,
			SessionCompleted, completedAt, now, id, SessionActive)
		if err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		transitioned = n > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sess, transitioned, nil
}

// ActiveSessions lists sessions still in flight, oldest first.
func (s *Store) ActiveSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE status = ? ORDER BY started_at_epoch ASC, id ASC",
		SessionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RecentSessions lists sessions newest first, optionally project-scoped.
func (s *Store) RecentSessions(ctx context.Context, project string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE (? = '' OR project = ?)
		ORDER BY started_at_epoch DESC, id DESC LIMIT ?`,
		project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
