package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertGithubLink records one GitHub artifact reference for an observation.
func (s *Store) InsertGithubLink(ctx context.Context, l GithubLink) (int64, error) {
	if l.CreatedAtEpoch == 0 {
		l.CreatedAtEpoch = nowMs()
	}
	var id int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO github_links (observation_id, repo, number, action, url, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.ObservationID, l.Repo, l.Number, l.Action, l.URL, l.CreatedAtEpoch)
		if err != nil {
			return fmt.Errorf("failed to insert github link: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GithubLinksByObservation lists links for one observation in insert order.
func (s *Store) GithubLinksByObservation(ctx context.Context, observationID int64) ([]*GithubLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, observation_id, repo, number, action, url, created_at_epoch
		FROM github_links WHERE observation_id = ? ORDER BY id ASC`, observationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list github links: %w", err)
	}
	defer rows.Close()

	var out []*GithubLink
	for rows.Next() {
		var l GithubLink
		if err := rows.Scan(&l.ID, &l.ObservationID, &l.Repo, &l.Number, &l.Action,
			&l.URL, &l.CreatedAtEpoch); err != nil {
			return nil, fmt.Errorf("failed to scan github link: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
