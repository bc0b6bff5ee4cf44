package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"kiromemory/internal/logging"
	"kiromemory/internal/scoring"
)

// ContentHash is the dedup identity of an observation: SHA-256 over
// project|type|title|narrative. The body is deliberately excluded, so rows
// differing only in text collide within the dedup window.
func ContentHash(project, typ, title, narrative string) string {
	h := sha256.Sum256([]byte(project + "|" + typ + "|" + title + "|" + narrative))
	return hex.EncodeToString(h[:])
}

// dedupWindows holds the per-type window within which an identical content
// hash collapses onto the existing row.
var dedupWindows = map[string]time.Duration{
	"file-read":  60 * time.Second,
	"file-write": 10 * time.Second,
	"command":    30 * time.Second,
	"research":   120 * time.Second,
	"delegation": 60 * time.Second,
}

// defaultDedupWindow applies to types without an explicit entry.
const defaultDedupWindow = 30 * time.Second

// DedupWindow returns the dedup window for an observation type.
func DedupWindow(typ string) time.Duration {
	if w, ok := dedupWindows[typ]; ok {
		return w
	}
	return defaultDedupWindow
}

const observationColumns = `id, memory_session_id, project, type, title, subtitle,
	text, narrative, facts, concepts, files_read, files_modified, prompt_number,
	created_at, created_at_epoch, content_hash, discovery_tokens,
	last_accessed_epoch, is_stale, auto_category`

func scanObservation(scan func(dest ...any) error) (*Observation, error) {
	var o Observation
	var lastAccessed sql.NullInt64
	var stale int
	err := scan(&o.ID, &o.MemorySessionID, &o.Project, &o.Type, &o.Title, &o.Subtitle,
		&o.Text, &o.Narrative, &o.Facts, &o.Concepts, &o.FilesRead, &o.FilesModified,
		&o.PromptNumber, &o.CreatedAt, &o.CreatedAtEpoch, &o.ContentHash,
		&o.DiscoveryTokens, &lastAccessed, &stale, &o.AutoCategory)
	if err != nil {
		return nil, err
	}
	if lastAccessed.Valid {
		v := lastAccessed.Int64
		o.LastAccessedEpoch = &v
	}
	o.IsStale = stale != 0
	return &o, nil
}

func collectObservations(rows *sql.Rows) ([]*Observation, error) {
	defer rows.Close()
	var out []*Observation
	for rows.Next() {
		o, err := scanObservation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertObservation performs the dedup-check-then-insert atomically. A row
// with the same content hash inside the type's window makes it return
// (nil, true, nil) without writing.
func (s *Store) InsertObservation(ctx context.Context, n NewObservation) (*Observation, bool, error) {
	now := nowMs()
	hash := ContentHash(n.Project, n.Type, n.Title, n.Narrative)
	windowStart := now - DedupWindow(n.Type).Milliseconds()

	o := &Observation{
		MemorySessionID: n.MemorySessionID,
		Project:         n.Project,
		Type:            n.Type,
		Title:           n.Title,
		Subtitle:        n.Subtitle,
		Text:            n.Text,
		Narrative:       n.Narrative,
		Facts:           n.Facts,
		Concepts:        n.Concepts,
		FilesRead:       n.FilesRead,
		FilesModified:   n.FilesModified,
		PromptNumber:    n.PromptNumber,
		CreatedAt:       isoFromMs(now),
		CreatedAtEpoch:  now,
		ContentHash:     hash,
		DiscoveryTokens: scoring.EstimateTokens(n.Text),
		AutoCategory:    n.AutoCategory,
	}

	duplicate := false
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM observations
			WHERE content_hash = ? AND created_at_epoch > ?
			ORDER BY created_at_epoch DESC LIMIT 1`,
			hash, windowStart).Scan(&existing)
		switch {
		case err == nil:
			duplicate = true
			return nil
		case err != sql.ErrNoRows:
			return fmt.Errorf("failed to check duplicate: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO observations (
				memory_session_id, project, type, title, subtitle, text, narrative,
				facts, concepts, files_read, files_modified, prompt_number,
				created_at, created_at_epoch, content_hash, discovery_tokens,
				is_stale, auto_category
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			o.MemorySessionID, o.Project, o.Type, o.Title, o.Subtitle, o.Text,
			o.Narrative, o.Facts, o.Concepts, o.FilesRead, o.FilesModified,
			o.PromptNumber, o.CreatedAt, o.CreatedAtEpoch, o.ContentHash,
			o.DiscoveryTokens, o.AutoCategory)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
		o.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if duplicate {
		return nil, true, nil
	}
	return o, false, nil
}

// GetObservation fetches one row by id.
func (s *Store) GetObservation(ctx context.Context, id int64) (*Observation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+observationColumns+" FROM observations WHERE id = ?", id)
	o, err := scanObservation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation %d: %w", id, err)
	}
	return o, nil
}

// GetObservations fetches rows by id, preserving the input order. Unknown
// ids are silently absent from the result.
func (s *Store) GetObservations(ctx context.Context, ids []int64) ([]*Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+observationColumns+" FROM observations WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch fetch observations: %w", err)
	}
	fetched, err := collectObservations(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*Observation, len(fetched))
	for _, o := range fetched {
		byID[o.ID] = o
	}
	out := make([]*Observation, 0, len(fetched))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// RecentObservations returns up to limit rows for a project, newest first.
// An empty project spans all projects.
func (s *Store) RecentObservations(ctx context.Context, project string, limit int) ([]*Observation, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE (? = '' OR project = ?)
		ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent observations: %w", err)
	}
	return collectObservations(rows)
}

// SearchPage is one keyset page of search results.
type SearchPage struct {
	Observations []*Observation
	NextCursor   string
}

// ftsQuery rewrites free text into an FTS5 MATCH expression: each token is
// quoted (neutralizing operator syntax) and prefix-expanded.
func ftsQuery(q string) string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !(r == '_' || r == '-' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') ||
			('0' <= r && r <= '9') || r > 127)
	})
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, `"`+strings.ReplaceAll(f, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " ")
}

// SearchObservations runs a full-text query with optional project/type
// filters, ordered (created_at_epoch DESC, id DESC) for keyset pagination.
// A nil cursor starts at the newest row; NextCursor is empty on the last
// page.
func (s *Store) SearchObservations(ctx context.Context, q, project, typ string, limit int, cursor *Cursor) (*SearchPage, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(q)
	if match == "" {
		return &SearchPage{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + observationColumns + ` FROM observations
		WHERE id IN (SELECT rowid FROM observations_fts WHERE observations_fts MATCH ?)`)
	args := []any{match}
	if project != "" {
		sb.WriteString(" AND project = ?")
		args = append(args, project)
	}
	if typ != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, typ)
	}
	if cursor != nil {
		sb.WriteString(" AND (created_at_epoch < ? OR (created_at_epoch = ? AND id < ?))")
		args = append(args, cursor.Epoch, cursor.Epoch, cursor.ID)
	}
	sb.WriteString(" ORDER BY created_at_epoch DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search observations: %w", err)
	}
	obs, err := collectObservations(rows)
	if err != nil {
		return nil, err
	}

	page := &SearchPage{Observations: obs}
	if len(obs) == limit {
		last := obs[len(obs)-1]
		page.NextCursor = EncodeCursor(Cursor{Epoch: last.CreatedAtEpoch, ID: last.ID})
	}
	return page, nil
}

// RankedMatch pairs an observation with its bm25 rank. Lower (more negative)
// ranks are better matches.
type RankedMatch struct {
	Observation *Observation
	Rank        float64
}

// SearchObservationsRanked runs a full-text query ordered by relevance, for
// the hybrid merge.
func (s *Store) SearchObservationsRanked(ctx context.Context, q, project string, limit int) ([]RankedMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	match := ftsQuery(q)
	if match == "" {
		return nil, nil
	}

	query := `
		SELECT ` + observationColumns + `, f.rank FROM observations
		JOIN (SELECT rowid, rank FROM observations_fts WHERE observations_fts MATCH ?) f
			ON f.rowid = observations.id
		WHERE (? = '' OR project = ?)
		ORDER BY f.rank ASC, created_at_epoch DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, match, project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank observations: %w", err)
	}
	defer rows.Close()

	var out []RankedMatch
	for rows.Next() {
		var o Observation
		var lastAccessed sql.NullInt64
		var stale int
		var rank float64
		err := rows.Scan(&o.ID, &o.MemorySessionID, &o.Project, &o.Type, &o.Title,
			&o.Subtitle, &o.Text, &o.Narrative, &o.Facts, &o.Concepts, &o.FilesRead,
			&o.FilesModified, &o.PromptNumber, &o.CreatedAt, &o.CreatedAtEpoch,
			&o.ContentHash, &o.DiscoveryTokens, &lastAccessed, &stale, &o.AutoCategory,
			&rank)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranked observation: %w", err)
		}
		if lastAccessed.Valid {
			v := lastAccessed.Int64
			o.LastAccessedEpoch = &v
		}
		o.IsStale = stale != 0
		out = append(out, RankedMatch{Observation: &o, Rank: rank})
	}
	return out, rows.Err()
}

// KeywordSearch is a LIKE-based substring match over title/text/narrative
// with %, _ and \ escaped. It backs searches whose query tokenizes to
// nothing for FTS.
func (s *Store) KeywordSearch(ctx context.Context, q, project string, limit int) ([]*Observation, error) {
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	pattern := "%" + esc + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE (? = '' OR project = ?)
		  AND (title LIKE ? ESCAPE '\'
		    OR text LIKE ? ESCAPE '\'
		    OR narrative LIKE ? ESCAPE '\')
		ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		project, project, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to keyword search: %w", err)
	}
	return collectObservations(rows)
}

// Timeline returns up to before rows older than the anchor, the anchor, and
// up to after rows newer, all in the anchor's project, chronologically.
func (s *Store) Timeline(ctx context.Context, anchorID int64, before, after int) ([]*Observation, error) {
	anchor, err := s.GetObservation(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	older, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE project = ? AND (created_at_epoch < ? OR (created_at_epoch = ? AND id < ?))
		ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		anchor.Project, anchor.CreatedAtEpoch, anchor.CreatedAtEpoch, anchor.ID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch timeline before: %w", err)
	}
	olderRows, err := collectObservations(older)
	if err != nil {
		return nil, err
	}

	newer, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE project = ? AND (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))
		ORDER BY created_at_epoch ASC, id ASC LIMIT ?`,
		anchor.Project, anchor.CreatedAtEpoch, anchor.CreatedAtEpoch, anchor.ID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch timeline after: %w", err)
	}
	newerRows, err := collectObservations(newer)
	if err != nil {
		return nil, err
	}

	out := make([]*Observation, 0, len(olderRows)+1+len(newerRows))
	for i := len(olderRows) - 1; i >= 0; i-- {
		out = append(out, olderRows[i])
	}
	out = append(out, anchor)
	out = append(out, newerRows...)
	return out, nil
}

// ObservationsBySession lists a memory session's rows in accepted order.
func (s *Store) ObservationsBySession(ctx context.Context, sessionID int64) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE memory_session_id = ?
		ORDER BY created_at_epoch ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session observations: %w", err)
	}
	return collectObservations(rows)
}

// TouchAccessed stamps last_accessed_epoch on the given rows.
func (s *Store) TouchAccessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, nowMs())
	for _, id := range ids {
		args = append(args, id)
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE observations SET last_accessed_epoch = ? WHERE id IN ("+placeholders+")",
			args...)
		return err
	})
}

// MarkStaleObservations flags rows whose referenced files changed after the
// observation was recorded. Returns the number of rows newly marked.
func (s *Store) MarkStaleObservations(ctx context.Context, project string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, files_read, files_modified, created_at_epoch FROM observations
		WHERE (? = '' OR project = ?) AND is_stale = 0
		  AND (files_read != '' OR files_modified != '')`,
		project, project)
	if err != nil {
		return 0, fmt.Errorf("failed to list candidates: %w", err)
	}

	type candidate struct {
		id    int64
		files []string
		epoch int64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var read, modified string
		if err := rows.Scan(&c.id, &read, &modified, &c.epoch); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.files = append(splitFileList(read), splitFileList(modified)...)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var stale []int64
	for _, c := range candidates {
		for _, f := range c.files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			if info.ModTime().UnixMilli() > c.epoch {
				stale = append(stale, c.id)
				break
			}
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(stale))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(stale))
	for i, id := range stale {
		args[i] = id
	}
	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE observations SET is_stale = 1 WHERE id IN ("+placeholders+")", args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale: %w", err)
	}
	return len(stale), nil
}

func splitFileList(list string) []string {
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConsolidateResult reports what a consolidation pass did (or, for a dry
// run, would do).
type ConsolidateResult struct {
	Merged  int `json:"merged"`
	Removed int `json:"removed"`
}

// consolidateTextCap bounds the merged body size.
const consolidateTextCap = 100 * 1024

// ConsolidateObservations collapses near-duplicate groups for a project:
// rows sharing (type, files_modified) with group size >= minGroupSize merge
// into the most recent row. The survivor's title gains a "[consolidated xN]"
// prefix and its text absorbs the distinct bodies of the losers; losers and
// their embeddings are deleted. Runs in one transaction unless dryRun.
func (s *Store) ConsolidateObservations(ctx context.Context, project string, minGroupSize int, dryRun bool) (*ConsolidateResult, error) {
	if minGroupSize < 2 {
		minGroupSize = 3
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, text, files_modified, created_at_epoch
		FROM observations
		WHERE project = ? AND files_modified != ''
		ORDER BY created_at_epoch DESC, id DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	type member struct {
		id    int64
		title string
		text  string
	}
	groups := make(map[string][]member)
	var order []string
	for rows.Next() {
		var m member
		var typ, files string
		var epoch int64
		if err := rows.Scan(&m.id, &typ, &m.title, &m.text, &files, &epoch); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		key := typ + "\x00" + files
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	result := &ConsolidateResult{}
	type rewrite struct {
		keep    member
		title   string
		text    string
		removed []int64
	}
	var rewrites []rewrite

	for _, key := range order {
		g := groups[key]
		if len(g) < minGroupSize {
			continue
		}
		keep := g[0] // newest; rows were scanned in epoch-descending order

		seen := map[string]bool{keep.text: true}
		merged := keep.text
		var removed []int64
		for _, m := range g[1:] {
			removed = append(removed, m.id)
			if m.text == "" || seen[m.text] {
				continue
			}
			seen[m.text] = true
			next := merged + "\n---\n" + m.text
			if len(next) > consolidateTextCap {
				break
			}
			merged = next
		}

		rewrites = append(rewrites, rewrite{
			keep:    keep,
			title:   fmt.Sprintf("[consolidated x%d] %s", len(g), stripConsolidatedPrefix(keep.title)),
			text:    merged,
			removed: removed,
		})
		result.Merged++
		result.Removed += len(removed)
	}

	if dryRun || len(rewrites) == 0 {
		return result, nil
	}

	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rewrites {
			if _, err := tx.ExecContext(ctx,
				"UPDATE observations SET title = ?, text = ? WHERE id = ?",
				r.title, r.text, r.keep.id); err != nil {
				return fmt.Errorf("failed to rewrite survivor %d: %w", r.keep.id, err)
			}
			placeholders := strings.Repeat("?,", len(r.removed))
			placeholders = placeholders[:len(placeholders)-1]
			args := make([]any, len(r.removed))
			for i, id := range r.removed {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM embeddings WHERE observation_id IN ("+placeholders+")", args...); err != nil {
				return fmt.Errorf("failed to delete merged embeddings: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM observations WHERE id IN ("+placeholders+")", args...); err != nil {
				return fmt.Errorf("failed to delete merged rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Get(logging.CategoryStore).Infow("observations consolidated",
		"project", project, "groups", result.Merged, "removed", result.Removed)
	return result, nil
}

// stripConsolidatedPrefix drops an existing marker so repeated passes do not
// stack prefixes.
func stripConsolidatedPrefix(title string) string {
	if !strings.HasPrefix(title, "[consolidated x") {
		return title
	}
	if end := strings.Index(title, "] "); end >= 0 {
		return title[end+2:]
	}
	return title
}

// CountObservations counts rows, optionally scoped to a project.
func (s *Store) CountObservations(ctx context.Context, project string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM observations WHERE (? = '' OR project = ?)",
		project, project).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return n, nil
}

// Projects lists distinct project names with row counts, most active first.
func (s *Store) Projects(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT project, COUNT(*) FROM observations GROUP BY project")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// ObservationsSince lists rows created at or after the epoch, oldest first,
// for report aggregation.
func (s *Store) ObservationsSince(ctx context.Context, project string, sinceEpoch int64) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE (? = '' OR project = ?) AND created_at_epoch >= ?
		ORDER BY created_at_epoch ASC, id ASC`,
		project, project, sinceEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations since: %w", err)
	}
	return collectObservations(rows)
}

// AllObservationIDs returns every id ordered (epoch DESC, id DESC), for
// pagination sweeps and exports.
func (s *Store) AllObservationIDs(ctx context.Context, project string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM observations WHERE (? = '' OR project = ?)
		ORDER BY created_at_epoch DESC, id DESC`, project, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list observation ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
