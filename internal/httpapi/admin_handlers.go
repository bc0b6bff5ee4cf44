package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"kiromemory/internal/apperr"
	"kiromemory/internal/backup"
	"kiromemory/internal/logging"
	"kiromemory/internal/store"
	"kiromemory/internal/transfer"
)

func (s *Server) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, r, apperr.Transient("scheduler not running", nil))
		return
	}
	info, err := s.sched.RunBackupNow(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"backup": info})
}

func (s *Server) handleBackupList(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, r, apperr.Transient("backups not configured", nil))
		return
	}
	infos, err := s.backups.List()
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if infos == nil {
		infos = []*backup.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": infos})
}

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, r, apperr.Transient("backups not configured", nil))
		return
	}
	var body struct {
		Filename string `json:"filename"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Filename == "" {
		writeError(w, r, apperr.Validationf("filename is required"))
		return
	}
	if err := s.backups.Restore(r.Context(), body.Filename); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"restored":         body.Filename,
		"restart_required": true,
	})
}

// handleRetentionRun applies retention immediately. Day overrides replace
// the configured policy for this run only; omitted fields keep their
// configured value.
func (s *Server) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, r, apperr.Transient("scheduler not running", nil))
		return
	}
	var body struct {
		ObservationDays *int `json:"observation_days"`
		SummaryDays     *int `json:"summary_days"`
		PromptDays      *int `json:"prompt_days"`
		KnowledgeDays   *int `json:"knowledge_days"`
	}
	// An empty body means "run with the configured policy".
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperr.Wrap(apperr.KindValidation, "malformed JSON body", err))
		return
	}

	var override *store.RetentionPolicy
	if body.ObservationDays != nil || body.SummaryDays != nil ||
		body.PromptDays != nil || body.KnowledgeDays != nil {
		p := s.sched.Policy()
		if body.ObservationDays != nil {
			p.ObservationDays = *body.ObservationDays
		}
		if body.SummaryDays != nil {
			p.SummaryDays = *body.SummaryDays
		}
		if body.PromptDays != nil {
			p.PromptDays = *body.PromptDays
		}
		if body.KnowledgeDays != nil {
			p.KnowledgeDays = *body.KnowledgeDays
		}
		override = &p
	}

	counts, err := s.sched.RunRetentionNow(r.Context(), override)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": counts,
		"total":   counts.Total(),
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, apperr.Validationf("dry_run must be a boolean"))
			return
		}
		dryRun = v
	}

	res, err := s.importer.Import(r.Context(), r.Body, dryRun)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, apperr.Validationf("import body exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filters := transfer.ExportFilters{
		Project: r.URL.Query().Get("project"),
		Type:    r.URL.Query().Get("type"),
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="kiro-memory-export.jsonl"`)
	meta, err := s.exporter.Export(r.Context(), w, filters)
	if err != nil {
		// Headers are gone; all that is left is to log and cut the stream.
		logging.WithRequestID(logging.CategoryHTTP, RequestIDFrom(r)).
			Errorw("export aborted", "error", err)
		return
	}
	logging.Get(logging.CategoryTransfer).Infow("export served", "counts", meta.Counts)
}
