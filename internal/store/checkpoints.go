package store

import (
	"context"
	"database/sql"
	"fmt"
)

const checkpointColumns = `id, session_id, project, task, progress, next_steps,
	open_questions, relevant_files, context_snapshot, created_at, created_at_epoch`

func scanCheckpoint(scan func(dest ...any) error) (*Checkpoint, error) {
	var cp Checkpoint
	err := scan(&cp.ID, &cp.SessionID, &cp.Project, &cp.Task, &cp.Progress,
		&cp.NextSteps, &cp.OpenQuestions, &cp.RelevantFiles, &cp.ContextSnapshot,
		&cp.CreatedAt, &cp.CreatedAtEpoch)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// NewCheckpoint is the insert candidate for a resumable checkpoint.
type NewCheckpoint struct {
	SessionID       int64
	Project         string
	Task            string
	Progress        string
	NextSteps       string
	OpenQuestions   string
	RelevantFiles   string
	ContextSnapshot string
}

// InsertCheckpoint writes a checkpoint row.
func (s *Store) InsertCheckpoint(ctx context.Context, n NewCheckpoint) (*Checkpoint, error) {
	now := nowMs()
	cp := &Checkpoint{
		SessionID:       n.SessionID,
		Project:         n.Project,
		Task:            n.Task,
		Progress:        n.Progress,
		NextSteps:       n.NextSteps,
		OpenQuestions:   n.OpenQuestions,
		RelevantFiles:   n.RelevantFiles,
		ContextSnapshot: n.ContextSnapshot,
		CreatedAt:       isoFromMs(now),
		CreatedAtEpoch:  now,
	}
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (session_id, project, task, progress, next_steps,
				open_questions, relevant_files, context_snapshot, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.SessionID, cp.Project, cp.Task, cp.Progress, cp.NextSteps,
			cp.OpenQuestions, cp.RelevantFiles, cp.ContextSnapshot, cp.CreatedAt,
			cp.CreatedAtEpoch)
		if err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		cp.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// LatestCheckpoint fetches the newest checkpoint for a project; nil when the
// project has none. An empty project spans all projects.
func (s *Store) LatestCheckpoint(ctx context.Context, project string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE (? = '' OR project = ?)
		ORDER BY created_at_epoch DESC, id DESC LIMIT 1`,
		project, project)
	cp, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// CheckpointsBySession lists a session's checkpoints newest first.
func (s *Store) CheckpointsBySession(ctx context.Context, sessionID int64) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE session_id = ? ORDER BY created_at_epoch DESC, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
