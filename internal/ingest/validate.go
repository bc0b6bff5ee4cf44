package ingest

import (
	"strings"

	"kiromemory/internal/apperr"
)

// Field limits enforced before anything touches storage.
const (
	MaxTypeLen         = 100
	MaxTitleLen        = 500
	MaxContentLen      = 100 * 1024
	MaxSummaryFieldLen = 50 * 1024
)

// Candidate is an inbound observation before validation. Field names mirror
// the wire format of the ingest endpoints.
type Candidate struct {
	ContentSessionID string `json:"content_session_id"`
	Project          string `json:"project"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	Text             string `json:"text"`
	Narrative        string `json:"narrative"`
	Facts            string `json:"facts"`
	Concepts         string `json:"concepts"`
	FilesRead        string `json:"files_read"`
	FilesModified    string `json:"files_modified"`
	PromptNumber     int    `json:"prompt_number"`
}

// Validate rejects candidates that would corrupt the store or blow its
// budgets. Limits are bytes, not runes, matching what SQLite stores.
func (c *Candidate) Validate() error {
	typ := strings.TrimSpace(c.Type)
	if typ == "" {
		return apperr.Validationf("type is required")
	}
	if len(typ) > MaxTypeLen {
		return apperr.Validationf("type exceeds %d characters", MaxTypeLen)
	}
	if strings.TrimSpace(c.Title) == "" {
		return apperr.Validationf("title is required")
	}
	if len(c.Title) > MaxTitleLen {
		return apperr.Validationf("title exceeds %d characters", MaxTitleLen)
	}
	if len(c.Text) > MaxContentLen {
		return apperr.Validationf("text exceeds %d bytes", MaxContentLen)
	}
	if len(c.Narrative) > MaxContentLen {
		return apperr.Validationf("narrative exceeds %d bytes", MaxContentLen)
	}
	for name, v := range map[string]string{
		"facts":    c.Facts,
		"concepts": c.Concepts,
	} {
		if len(v) > MaxSummaryFieldLen {
			return apperr.Validationf("%s exceeds %d bytes", name, MaxSummaryFieldLen)
		}
	}
	if c.PromptNumber < 0 {
		return apperr.Validationf("prompt_number must not be negative")
	}
	return nil
}
