// Package store owns the embedded SQLite database: schema, forward-only
// migrations, and every query the worker runs. Writes are serialized through
// a single writer mutex; WAL mode keeps readers off the writer's back.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kiromemory/internal/logging"
)

// isoLayout renders millisecond-precision UTC timestamps.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Store wraps the SQLite database.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path, applies pragmas and runs
// pending migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// A pooled second connection would see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logging.Get(logging.CategoryStore).Infow("store opened",
		"path", path, "driver", driverName, "vector_ext", vecExtension)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the raw handle for read-only callers (reports, tests).
func (s *Store) DB() *sql.DB { return s.db }

// withWriteTx runs fn inside a transaction under the writer mutex.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BeginWrite starts a caller-managed write transaction. The returned release
// func unlocks the writer mutex and must run after Commit or Rollback.
func (s *Store) BeginWrite(ctx context.Context) (*sql.Tx, func(), error) {
	s.writeMu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writeMu.Unlock()
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, s.writeMu.Unlock, nil
}

// VacuumInto writes an atomic, consistent snapshot of the database to dest
// using SQLite's online backup statement.
func (s *Store) VacuumInto(ctx context.Context, dest string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// statTables are reported by Stats in a stable order.
var statTables = []string{
	"sessions", "observations", "summaries", "checkpoints",
	"user_prompts", "embeddings", "project_aliases", "github_links",
}

// Stats returns row counts per table.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(statTables))
	for _, table := range statTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// nowMs returns the current epoch in milliseconds.
func nowMs() int64 { return time.Now().UnixMilli() }

// isoFromMs renders a millisecond epoch as an ISO-8601 UTC string.
func isoFromMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoLayout)
}
