package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"kiromemory/internal/embedding"
)

// EncodeVector packs a float32 vector into a little-endian BLOB.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian BLOB into a float32 vector. The blob
// length must be a multiple of 4.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// UpsertEmbedding stores the vector for an observation, replacing any prior
// row. Dimensions are taken from the vector itself.
func (s *Store) UpsertEmbedding(ctx context.Context, observationID int64, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("refusing to store empty vector for observation %d", observationID)
	}
	blob := EncodeVector(vector)
	now := nowMs()
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (observation_id, vector, model, dimensions, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(observation_id) DO UPDATE SET
				vector = excluded.vector,
				model = excluded.model,
				dimensions = excluded.dimensions,
				created_at = excluded.created_at`,
			observationID, blob, model, len(vector), isoFromMs(now))
		if err != nil {
			return fmt.Errorf("failed to upsert embedding for %d: %w", observationID, err)
		}
		return nil
	})
}

// GetEmbedding fetches the vector for an observation; nil when absent.
func (s *Store) GetEmbedding(ctx context.Context, observationID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT vector FROM embeddings WHERE observation_id = ?", observationID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding for %d: %w", observationID, err)
	}
	return DecodeVector(blob)
}

// SemanticMatch pairs an observation with its cosine similarity to the query
// vector.
type SemanticMatch struct {
	Observation *Observation
	Similarity  float64
}

// SemanticSearch brute-force scans stored vectors in the project scope,
// ranking by cosine similarity descending. Vectors whose dimension differs
// from the query are skipped.
func (s *Store) SemanticSearch(ctx context.Context, query []float32, project string, limit int) ([]SemanticMatch, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+observationColumns+`, e.vector
		FROM observations
		JOIN (SELECT observation_id, vector FROM embeddings) e
			ON observations.id = e.observation_id
		WHERE (? = '' OR project = ?)`,
		project, project)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer rows.Close()

	var matches []SemanticMatch
	for rows.Next() {
		var o Observation
		var lastAccessed sql.NullInt64
		var stale int
		var blob []byte
		err := rows.Scan(&o.ID, &o.MemorySessionID, &o.Project, &o.Type, &o.Title,
			&o.Subtitle, &o.Text, &o.Narrative, &o.Facts, &o.Concepts, &o.FilesRead,
			&o.FilesModified, &o.PromptNumber, &o.CreatedAt, &o.CreatedAtEpoch,
			&o.ContentHash, &o.DiscoveryTokens, &lastAccessed, &stale, &o.AutoCategory,
			&blob)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedded observation: %w", err)
		}
		if lastAccessed.Valid {
			v := lastAccessed.Int64
			o.LastAccessedEpoch = &v
		}
		o.IsStale = stale != 0

		vec, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		matches = append(matches, SemanticMatch{Observation: &o, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Observation.ID > matches[j].Observation.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// MissingEmbeddingIDs lists observations without an embedding row, oldest
// first, up to limit.
func (s *Store) MissingEmbeddingIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id FROM observations o
		LEFT JOIN embeddings e ON e.observation_id = o.id
		WHERE e.observation_id IS NULL
		ORDER BY o.created_at_epoch ASC, o.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing embeddings: %w", err)
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

// EmbeddingStats summarizes vector coverage for the stats endpoint.
type EmbeddingStats struct {
	Observations int64            `json:"observations"`
	Embedded     int64            `json:"embedded"`
	Coverage     float64          `json:"coverage"`
	Models       map[string]int64 `json:"models"`
	Dimensions   map[int]int64    `json:"dimensions"`
}

// GetEmbeddingStats computes coverage and per-model/per-dimension counts.
func (s *Store) GetEmbeddingStats(ctx context.Context) (*EmbeddingStats, error) {
	stats := &EmbeddingStats{
		Models:     map[string]int64{},
		Dimensions: map[int]int64{},
	}
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM observations").Scan(&stats.Observations)
	if err != nil {
		return nil, fmt.Errorf("failed to count observations: %w", err)
	}
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&stats.Embedded)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	if stats.Observations > 0 {
		stats.Coverage = float64(stats.Embedded) / float64(stats.Observations)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT model, dimensions, COUNT(*) FROM embeddings GROUP BY model, dimensions")
	if err != nil {
		return nil, fmt.Errorf("failed to group embeddings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var dims int
		var n int64
		if err := rows.Scan(&model, &dims, &n); err != nil {
			return nil, err
		}
		stats.Models[model] += n
		stats.Dimensions[dims] += n
	}
	return stats, rows.Err()
}

// SweepEmbeddingDimension drops embedding rows that the given provider
// cannot compare against: any row from another model or with another
// dimension. Affected observations become visible to backfill again, and a
// sweep that removed anything leaves an audit row in schema_versions.
// Returns how many rows were dropped.
func (s *Store) SweepEmbeddingDimension(ctx context.Context, model string, dims int) (int64, error) {
	if dims <= 0 {
		return 0, nil
	}
	var dropped int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE model != ? OR dimensions != ?", model, dims)
		if err != nil {
			return fmt.Errorf("failed to sweep embeddings: %w", err)
		}
		dropped, _ = res.RowsAffected()
		if dropped == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)",
			SchemaVersion,
			fmt.Sprintf("embedding sweep to %s/%d removed %d rows", model, dims, dropped),
			isoFromMs(nowMs()))
		return err
	})
	return dropped, err
}

// StoredEmbeddingDimensions returns the distinct dimensions present, for the
// startup dimension sweep decision.
func (s *Store) StoredEmbeddingDimensions(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT dimensions FROM embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedding dimensions: %w", err)
	}
	defer rows.Close()

	var dims []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}
