package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"kiromemory/internal/apperr"
	"kiromemory/internal/category"
	"kiromemory/internal/ingest"
	"kiromemory/internal/sse"
)

// ingestResponse acknowledges an observation write. Duplicates are reported
// with id -1 so callers can tell a dedup hit from a fresh row.
type ingestResponse struct {
	ID        int64 `json:"id"`
	Duplicate bool  `json:"duplicate"`
	SessionID int64 `json:"session_id,omitempty"`
}

func (s *Server) ingestCandidate(w http.ResponseWriter, r *http.Request, c ingest.Candidate) {
	res, err := s.pipeline.Ingest(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, ingestResponse{ID: -1, Duplicate: true, SessionID: res.SessionID})
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		ID:        res.Observation.ID,
		SessionID: res.SessionID,
	})
}

func (s *Server) handleObservationCreate(w http.ResponseWriter, r *http.Request) {
	var c ingest.Candidate
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	s.ingestCandidate(w, r, c)
}

func (s *Server) handlePromptCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContentSessionID string `json:"content_session_id"`
		Project          string `json:"project"`
		PromptText       string `json:"prompt_text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	p, created, err := s.sessions.RecordPrompt(r.Context(), body.ContentSessionID, body.Project, body.PromptText)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if created {
		sess, err := s.store.SessionByContentID(r.Context(), body.ContentSessionID)
		if err == nil && sess != nil {
			s.hub.Publish(sse.EventSessionStarted, sess)
			if s.plugins != nil {
				s.plugins.EmitSessionStart(r.Context(), sess)
			}
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"prompt":          p,
		"session_started": created,
	})
}

func (s *Server) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContentSessionID string `json:"content_session_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.sessions.Complete(r.Context(), body.ContentSessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Transitioned {
		if s.metrics != nil {
			s.metrics.SessionsCompleted.Inc()
		}
		s.hub.Publish(sse.EventSummaryCreated, res.Summary)
		if res.Checkpoint != nil {
			s.hub.Publish(sse.EventCheckpointCreated, res.Checkpoint)
		}
		s.hub.Publish(sse.EventSessionCompleted, res.Session)
		if s.plugins != nil {
			s.plugins.EmitSummary(r.Context(), res.Summary)
			s.plugins.EmitSessionEnd(r.Context(), res.Session)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":      res.Session,
		"summary":      res.Summary,
		"checkpoint":   res.Checkpoint,
		"transitioned": res.Transitioned,
	})
}

func (s *Server) handleKnowledgeCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Project       string          `json:"project"`
		KnowledgeType string          `json:"knowledge_type"`
		Title         string          `json:"title"`
		Content       string          `json:"content"`
		Metadata      json.RawMessage `json:"metadata"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if !category.IsKnowledgeType(body.KnowledgeType) {
		writeError(w, r, apperr.Validationf("knowledge_type must be one of %s",
			strings.Join(category.KnowledgeTypes(), ", ")))
		return
	}

	s.ingestCandidate(w, r, ingest.Candidate{
		Project: body.Project,
		Type:    body.KnowledgeType,
		Title:   body.Title,
		Text:    body.Content,
		Facts:   string(body.Metadata),
	})
}

func (s *Server) handleMemorySave(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Project string `json:"project"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	typ := body.Type
	if typ == "" {
		typ = category.Research
	}

	s.ingestCandidate(w, r, ingest.Candidate{
		Project: body.Project,
		Type:    typ,
		Title:   body.Title,
		Text:    body.Content,
	})
}

// handleNotify broadcasts an arbitrary named payload to event subscribers.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Event == "" {
		body.Event = sse.EventNotify
	}

	s.hub.Publish(sse.EventNotify, map[string]any{
		"event": body.Event,
		"data":  body.Data,
	})
	writeJSON(w, http.StatusOK, map[string]any{"clients": s.hub.ClientCount()})
}
