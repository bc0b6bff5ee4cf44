package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetProjectAlias sets or replaces the display name for a project.
func (s *Store) SetProjectAlias(ctx context.Context, projectName, displayName string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_aliases (project_name, display_name) VALUES (?, ?)
			ON CONFLICT(project_name) DO UPDATE SET display_name = excluded.display_name`,
			projectName, displayName)
		if err != nil {
			return fmt.Errorf("failed to set alias for %q: %w", projectName, err)
		}
		return nil
	})
}

// ProjectAliases returns the full alias map.
func (s *Store) ProjectAliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT project_name, display_name FROM project_aliases")
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, display string
		if err := rows.Scan(&name, &display); err != nil {
			return nil, err
		}
		out[name] = display
	}
	return out, rows.Err()
}
