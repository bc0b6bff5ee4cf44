// Package session drives the memory session lifecycle: resolving sessions
// from content session ids, capturing user prompts, and completing sessions
// with a synthesized summary and a resumable checkpoint.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
	"kiromemory/internal/store"
	"kiromemory/internal/summary"
)

const (
	// snapshotLimit bounds the checkpoint's observation header snapshot.
	snapshotLimit = 10
	// maxRelevantFiles bounds the file list carried on a checkpoint.
	maxRelevantFiles = 20
)

// Service owns session state transitions. All mutations go through the
// store; the service adds validation, summary synthesis and checkpointing.
type Service struct {
	store     *store.Store
	generator summary.Generator
	log       *zap.SugaredLogger
}

// New builds the lifecycle service around a store and a summary generator.
func New(st *store.Store, gen summary.Generator) *Service {
	return &Service{
		store:     st,
		generator: gen,
		log:       logging.Get(logging.CategorySession),
	}
}

// Start resolves the session for a content session id, creating an active
// one on first sight. The bool reports whether this call created it.
func (s *Service) Start(ctx context.Context, contentSessionID, project string) (*store.Session, bool, error) {
	if contentSessionID == "" {
		return nil, false, apperr.Validationf("content_session_id is required")
	}
	sess, created, err := s.store.GetOrCreateSession(ctx, contentSessionID, project)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if created {
		s.log.Infow("session started",
			"session_id", sess.ID,
			"content_session_id", contentSessionID,
			"project", project)
	}
	return sess, created, nil
}

// RecordPrompt stores a user prompt under its content session, creating the
// session when needed. The first prompt is also pinned on the session row.
// The bool reports whether the session was created by this call.
func (s *Service) RecordPrompt(ctx context.Context, contentSessionID, project, text string) (*store.UserPrompt, bool, error) {
	if contentSessionID == "" {
		return nil, false, apperr.Validationf("content_session_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, false, apperr.Validationf("prompt_text is required")
	}

	sess, created, err := s.Start(ctx, contentSessionID, project)
	if err != nil {
		return nil, false, err
	}
	p, err := s.store.InsertPrompt(ctx, contentSessionID, sess.Project, text)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if err := s.store.SetSessionPrompt(ctx, sess.ID, text); err != nil {
		return nil, false, apperr.Internal(err)
	}
	return p, created, nil
}

// CompleteResult reports a completion outcome. Transitioned is false when
// the session had already been completed; the summary and checkpoint from
// the first completion are returned unchanged in that case.
type CompleteResult struct {
	Session      *store.Session
	Summary      *store.Summary
	Checkpoint   *store.Checkpoint
	Transitioned bool
}

// Complete transitions the session to completed, synthesizes a summary from
// its observations and prompts, and writes a checkpoint snapshotting the
// project's most recent observations. Repeat calls are no-ops returning the
// artifacts of the first completion.
func (s *Service) Complete(ctx context.Context, contentSessionID string) (*CompleteResult, error) {
	if contentSessionID == "" {
		return nil, apperr.Validationf("content_session_id is required")
	}
	sess, err := s.store.SessionByContentID(ctx, contentSessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if sess == nil {
		return nil, apperr.NotFoundf("session %q not found", contentSessionID)
	}

	sess, transitioned, err := s.store.CompleteSession(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !transitioned {
		return s.existingArtifacts(ctx, sess)
	}

	obs, err := s.store.ObservationsBySession(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	prompts, err := s.store.PromptsBySession(ctx, contentSessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	draft, err := s.generator.Generate(ctx, summary.Input{
		Session:      sess,
		Observations: obs,
		Prompts:      prompts,
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("summary generation: %w", err))
	}

	sm, err := s.store.InsertSummary(ctx, store.NewSummary{
		SessionID:    sess.ID,
		Project:      sess.Project,
		Request:      draft.Request,
		Investigated: draft.Investigated,
		Learned:      draft.Learned,
		Completed:    draft.Completed,
		NextSteps:    draft.NextSteps,
		Notes:        draft.Notes,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	snapshot, err := s.contextSnapshot(ctx, sess.Project)
	if err != nil {
		s.log.Warnw("checkpoint snapshot failed", "session_id", sess.ID, "error", err)
		snapshot = "[]"
	}
	cp, err := s.store.InsertCheckpoint(ctx, store.NewCheckpoint{
		SessionID:       sess.ID,
		Project:         sess.Project,
		Task:            draft.Request,
		Progress:        draft.Completed,
		NextSteps:       draft.NextSteps,
		RelevantFiles:   relevantFiles(obs),
		ContextSnapshot: snapshot,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.log.Infow("session completed",
		"session_id", sess.ID,
		"summary_id", sm.ID,
		"checkpoint_id", cp.ID,
		"observations", len(obs))
	return &CompleteResult{Session: sess, Summary: sm, Checkpoint: cp, Transitioned: true}, nil
}

// existingArtifacts resolves the summary and checkpoint of an earlier
// completion.
func (s *Service) existingArtifacts(ctx context.Context, sess *store.Session) (*CompleteResult, error) {
	sm, err := s.store.SummaryBySession(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	cps, err := s.store.CheckpointsBySession(ctx, sess.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	res := &CompleteResult{Session: sess, Summary: sm, Transitioned: false}
	if len(cps) > 0 {
		res.Checkpoint = cps[0]
	}
	return res, nil
}

// snapshotHeader is one entry of a checkpoint's context snapshot.
type snapshotHeader struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// contextSnapshot serializes headers of the project's most recent
// observations; an empty project yields "[]".
func (s *Service) contextSnapshot(ctx context.Context, project string) (string, error) {
	recent, err := s.store.RecentObservations(ctx, project, snapshotLimit)
	if err != nil {
		return "", err
	}
	headers := make([]snapshotHeader, len(recent))
	for i, o := range recent {
		headers[i] = snapshotHeader{ID: o.ID, Type: o.Type, Title: o.Title, CreatedAt: o.CreatedAt}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// relevantFiles collects the distinct files the session touched, modified
// files first.
func relevantFiles(obs []*store.Observation) string {
	seen := map[string]bool{}
	var out []string
	add := func(list string) {
		for _, f := range strings.Split(list, ",") {
			f = strings.TrimSpace(f)
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, o := range obs {
		add(o.FilesModified)
	}
	for _, o := range obs {
		add(o.FilesRead)
	}
	if len(out) > maxRelevantFiles {
		out = out[:maxRelevantFiles]
	}
	return strings.Join(out, ",")
}
