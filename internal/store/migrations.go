package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"kiromemory/internal/logging"
)

// SchemaVersion is the version fresh databases are created at. The chain is
// forward-only; downgrades are not supported.
const SchemaVersion = 3

// migration is one forward step. Steps run inside a transaction in version
// order; a file-backed database is snapshotted before any step runs.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base schema", migrateBaseSchema},
	{2, "full-text index", migrateFullTextIndex},
	{3, "content hash backfill", migrateContentHashBackfill},
}

// migrate brings the database to SchemaVersion. When steps are pending on a
// file-backed database, a pre-migration copy is written next to it and
// restored if any step fails.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_versions: %w", err)
	}

	current := 0
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	log := logging.Get(logging.CategoryStore)

	var backupPath string
	if current > 0 && s.path != ":memory:" {
		// Only upgrades of existing data are worth a safety copy; a fresh
		// database has nothing to lose.
		p, err := s.preMigrationCopy()
		if err != nil {
			return fmt.Errorf("failed to back up database before migration: %w", err)
		}
		backupPath = p
		log.Infow("pre-migration backup written", "path", backupPath)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)",
				m.version, m.name, isoFromMs(nowMs()))
			return err
		})
		if err != nil {
			if backupPath != "" {
				if rerr := restoreFileCopy(backupPath, s.path); rerr != nil {
					log.Errorw("failed to restore pre-migration backup", "error", rerr)
				} else {
					log.Warnw("database restored from pre-migration backup", "path", backupPath)
				}
			}
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		log.Infow("migration applied", "version", m.version, "name", m.name)
	}
	return nil
}

// preMigrationCopy writes a plain file copy of the database. The store is not
// yet serving traffic when migrations run, so a raw copy is consistent here.
func (s *Store) preMigrationCopy() (string, error) {
	stamp := time.Now().Format("20060102-150405")
	dest := fmt.Sprintf("%s.pre-migration-%s", s.path, stamp)

	src, err := os.Open(s.path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return dest, dst.Sync()
}

func restoreFileCopy(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Sync()
}

func migrateBaseSchema(ctx context.Context, tx *sql.Tx) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_session_id TEXT NOT NULL UNIQUE,
		project TEXT NOT NULL DEFAULT '',
		user_prompt TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
		started_at TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		completed_at TEXT,
		completed_at_epoch INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project, started_at_epoch DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_session_id INTEGER NOT NULL DEFAULT 0,
		project TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		subtitle TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		narrative TEXT NOT NULL DEFAULT '',
		facts TEXT NOT NULL DEFAULT '',
		concepts TEXT NOT NULL DEFAULT '',
		files_read TEXT NOT NULL DEFAULT '',
		files_modified TEXT NOT NULL DEFAULT '',
		prompt_number INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		discovery_tokens INTEGER NOT NULL DEFAULT 0,
		last_accessed_epoch INTEGER,
		is_stale INTEGER NOT NULL DEFAULT 0,
		auto_category TEXT NOT NULL DEFAULT 'general'
	);
	CREATE INDEX IF NOT EXISTS idx_observations_project_epoch
		ON observations(project, created_at_epoch DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_observations_hash
		ON observations(content_hash, created_at_epoch DESC);
	CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(memory_session_id);
	CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(type);

	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		project TEXT NOT NULL DEFAULT '',
		request TEXT NOT NULL DEFAULT '',
		investigated TEXT NOT NULL DEFAULT '',
		learned TEXT NOT NULL DEFAULT '',
		completed TEXT NOT NULL DEFAULT '',
		next_steps TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_project_epoch
		ON summaries(project, created_at_epoch DESC);
	CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		project TEXT NOT NULL DEFAULT '',
		task TEXT NOT NULL DEFAULT '',
		progress TEXT NOT NULL DEFAULT '',
		next_steps TEXT NOT NULL DEFAULT '',
		open_questions TEXT NOT NULL DEFAULT '',
		relevant_files TEXT NOT NULL DEFAULT '',
		context_snapshot TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_project_epoch
		ON checkpoints(project, created_at_epoch DESC);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);

	CREATE TABLE IF NOT EXISTS user_prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_session_id TEXT NOT NULL,
		project TEXT NOT NULL DEFAULT '',
		prompt_number INTEGER NOT NULL DEFAULT 0,
		prompt_text TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_session
		ON user_prompts(content_session_id, prompt_number);
	CREATE INDEX IF NOT EXISTS idx_prompts_project_epoch
		ON user_prompts(project, created_at_epoch DESC);

	CREATE TABLE IF NOT EXISTS embeddings (
		observation_id INTEGER PRIMARY KEY
			REFERENCES observations(id) ON DELETE CASCADE,
		vector BLOB NOT NULL,
		model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model, dimensions);

	CREATE TABLE IF NOT EXISTS project_aliases (
		project_name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS github_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		observation_id INTEGER NOT NULL
			REFERENCES observations(id) ON DELETE CASCADE,
		repo TEXT NOT NULL,
		number INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at_epoch INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_github_links_obs ON github_links(observation_id);
	`
	_, err := tx.ExecContext(ctx, schema)
	return err
}

// migrateFullTextIndex creates the external-content FTS5 table and the
// triggers that keep it in sync with observations.
func migrateFullTextIndex(ctx context.Context, tx *sql.Tx) error {
	const schema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
		title, text, narrative, concepts,
		content='observations',
		content_rowid='id',
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS observations_fts_insert
	AFTER INSERT ON observations BEGIN
		INSERT INTO observations_fts(rowid, title, text, narrative, concepts)
		VALUES (new.id, new.title, new.text, new.narrative, new.concepts);
	END;

	CREATE TRIGGER IF NOT EXISTS observations_fts_delete
	AFTER DELETE ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, title, text, narrative, concepts)
		VALUES ('delete', old.id, old.title, old.text, old.narrative, old.concepts);
	END;

	CREATE TRIGGER IF NOT EXISTS observations_fts_update
	AFTER UPDATE OF title, text, narrative, concepts ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, title, text, narrative, concepts)
		VALUES ('delete', old.id, old.title, old.text, old.narrative, old.concepts);
		INSERT INTO observations_fts(rowid, title, text, narrative, concepts)
		VALUES (new.id, new.title, new.text, new.narrative, new.concepts);
	END;
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	// Index rows that predate the FTS table (upgrades from version 1).
	_, err := tx.ExecContext(ctx,
		"INSERT INTO observations_fts(observations_fts) VALUES ('rebuild')")
	return err
}

// migrateContentHashBackfill fills content_hash for rows imported or written
// before hashing existed.
func migrateContentHashBackfill(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, project, type, title, narrative FROM observations WHERE content_hash = ''")
	if err != nil {
		return err
	}
	type pending struct {
		id   int64
		hash string
	}
	var updates []pending
	for rows.Next() {
		var id int64
		var project, typ, title, narrative string
		if err := rows.Scan(&id, &project, &typ, &title, &narrative); err != nil {
			rows.Close()
			return err
		}
		updates = append(updates, pending{id, ContentHash(project, typ, title, narrative)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			"UPDATE observations SET content_hash = ? WHERE id = ?", u.hash, u.id); err != nil {
			return err
		}
	}
	return nil
}

// CurrentSchemaVersion reports the version recorded in the database.
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

