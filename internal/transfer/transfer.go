// Package transfer moves memory between stores as JSONL. An export stream
// opens with a `_meta` record and then carries one record per row, each
// tagged with `_type`. Import replays such a stream into a store, skipping
// rows it already holds.
package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"kiromemory/internal/store"
)

// FormatVersion is written into the `_meta` record of every export.
const FormatVersion = 1

// Record type tags.
const (
	TypeObservation = "observation"
	TypeSummary     = "summary"
	TypePrompt      = "prompt"
)

// pageSize is how many rows each storage read and each flushed output batch
// carries.
const pageSize = 200

// Meta describes an export stream.
type Meta struct {
	Version    int               `json:"version"`
	ExportedAt string            `json:"exported_at"`
	Counts     map[string]int64  `json:"counts"`
	Filters    map[string]string `json:"filters,omitempty"`
}

type metaLine struct {
	Meta *Meta `json:"_meta"`
}

type observationRecord struct {
	RecordType string `json:"_type"`
	*store.Observation
}

type summaryRecord struct {
	RecordType string `json:"_type"`
	*store.Summary
}

type promptRecord struct {
	RecordType string `json:"_type"`
	*store.UserPrompt
}

// observationKey is the dedup identity of an exported observation. It is the
// same recipe the ingest dedup window uses.
func observationKey(o *store.Observation) string {
	return store.ContentHash(o.Project, o.Type, o.Title, o.Narrative)
}

// summaryKey hashes the fields that make two summaries the same digest.
func summaryKey(sm *store.Summary) string {
	return hashTuple(sm.Project, sm.Request, sm.Investigated, sm.Learned, sm.Completed)
}

// promptKey hashes the identity of a prompt within its content session.
func promptKey(p *store.UserPrompt) string {
	return hashTuple(p.ContentSessionID, strconv.Itoa(p.PromptNumber), p.PromptText)
}

func hashTuple(parts ...string) string {
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "|"
		}
		joined += p
	}
	h := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(h[:])
}
