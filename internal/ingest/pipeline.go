// Package ingest is the write path for observations: validate, redact,
// categorize, dedup-insert, then fan out to the embed queue, the event hub
// and the plugin host. The database write is synchronous; everything after it
// must never fail the request.
package ingest

import (
	"context"
	"strings"

	"kiromemory/internal/category"
	"kiromemory/internal/logging"
	"kiromemory/internal/metrics"
	"kiromemory/internal/secrets"
	"kiromemory/internal/sse"
	"kiromemory/internal/store"
)

// Publisher fans an event out to live subscribers.
type Publisher interface {
	Publish(event string, payload any)
}

// Hooks dispatches plugin hooks for ingest-path events.
type Hooks interface {
	EmitObservation(ctx context.Context, o *store.Observation)
	EmitSessionStart(ctx context.Context, s *store.Session)
}

// Deps wires a pipeline. Store is required; the rest may be nil and the
// corresponding fan-out step is skipped.
type Deps struct {
	Store   *store.Store
	Queue   *EmbedQueue
	Hub     Publisher
	Hooks   Hooks
	Metrics *metrics.Metrics
}

// Pipeline accepts observation candidates.
type Pipeline struct {
	store   *store.Store
	queue   *EmbedQueue
	hub     Publisher
	hooks   Hooks
	metrics *metrics.Metrics
}

// NewPipeline builds the ingest pipeline.
func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{
		store:   d.Store,
		queue:   d.Queue,
		hub:     d.Hub,
		hooks:   d.Hooks,
		metrics: d.Metrics,
	}
}

// Result reports what Ingest did with a candidate.
type Result struct {
	// Observation is nil when the candidate was a duplicate.
	Observation *store.Observation
	Duplicate   bool
	// SessionID is the memory session the observation joined, 0 when the
	// candidate carried no content session.
	SessionID int64
}

// Ingest runs the full write path for one candidate. Duplicates inside the
// type's dedup window return Duplicate=true without writing or fanning out.
func (p *Pipeline) Ingest(ctx context.Context, c Candidate) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	secrets.RedactAll(&c.Title, &c.Subtitle, &c.Text, &c.Narrative, &c.Facts)

	autoCategory := category.Categorize(category.Fields{
		Type:          c.Type,
		Title:         c.Title,
		Text:          c.Text,
		Narrative:     c.Narrative,
		FilesRead:     c.FilesRead,
		FilesModified: c.FilesModified,
	})

	log := logging.Get(logging.CategoryIngest)

	var sessionID int64
	if id := strings.TrimSpace(c.ContentSessionID); id != "" {
		sess, created, err := p.store.GetOrCreateSession(ctx, id, c.Project)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
		if created {
			if p.hub != nil {
				p.hub.Publish(sse.EventSessionStarted, sess)
			}
			if p.hooks != nil {
				p.hooks.EmitSessionStart(ctx, sess)
			}
		}
	}

	obs, duplicate, err := p.store.InsertObservation(ctx, store.NewObservation{
		MemorySessionID: sessionID,
		Project:         c.Project,
		Type:            strings.TrimSpace(c.Type),
		Title:           c.Title,
		Subtitle:        c.Subtitle,
		Text:            c.Text,
		Narrative:       c.Narrative,
		Facts:           c.Facts,
		Concepts:        c.Concepts,
		FilesRead:       c.FilesRead,
		FilesModified:   c.FilesModified,
		PromptNumber:    c.PromptNumber,
		AutoCategory:    autoCategory,
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		if p.metrics != nil {
			p.metrics.ObservationsDuplicate.Inc()
		}
		log.Debugw("duplicate observation dropped",
			"project", c.Project, "type", c.Type, "title", c.Title)
		return &Result{Duplicate: true, SessionID: sessionID}, nil
	}

	if p.metrics != nil {
		p.metrics.ObservationsIngested.Inc()
	}
	log.Infow("observation stored",
		"id", obs.ID,
		"project", obs.Project,
		"type", obs.Type,
		"category", obs.AutoCategory)

	if p.queue != nil && !p.queue.Enqueue(obs.ID) {
		log.Debugw("embedding skipped", "id", obs.ID)
	}
	if p.hub != nil {
		p.hub.Publish(sse.EventObservationCreated, obs)
	}
	if p.hooks != nil {
		p.hooks.EmitObservation(ctx, obs)
	}

	return &Result{Observation: obs, SessionID: sessionID}, nil
}
