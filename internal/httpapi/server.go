// Package httpapi serves the worker's loopback HTTP surface: the ingest and
// retrieval routes under /api, the SSE event stream, Prometheus metrics and
// the embedded status page. Handlers translate between wire JSON and the
// service layer; they hold no state of their own beyond the wired
// collaborators.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"kiromemory/internal/apperr"
	"kiromemory/internal/backup"
	"kiromemory/internal/config"
	"kiromemory/internal/ingest"
	"kiromemory/internal/metrics"
	"kiromemory/internal/report"
	"kiromemory/internal/scheduler"
	"kiromemory/internal/search"
	"kiromemory/internal/session"
	"kiromemory/internal/sse"
	"kiromemory/internal/store"
	"kiromemory/internal/transfer"
)

const (
	// defaultBodyCap bounds ordinary request bodies.
	defaultBodyCap = 1 << 20
	// importBodyCap bounds the JSONL import body.
	importBodyCap = 50 << 20
)

// Plugins is the slice of the plugin host the HTTP layer needs: session
// fan-out hooks plus the active count for /api/stats.
type Plugins interface {
	EmitSummary(ctx context.Context, sm *store.Summary)
	EmitSessionStart(ctx context.Context, sess *store.Session)
	EmitSessionEnd(ctx context.Context, sess *store.Session)
	ActiveCount() int
}

// Deps wires a Server. Config, Store, Pipeline, Sessions, Searcher, Hub,
// Reports and Metrics are required; Plugins, Queue, Scheduler and Backups
// may be nil and the touching routes degrade or 503.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Pipeline  *ingest.Pipeline
	Queue     *ingest.EmbedQueue
	Searcher  *search.Searcher
	Sessions  *session.Service
	Hub       *sse.Hub
	Plugins   Plugins
	Scheduler *scheduler.Scheduler
	Backups   *backup.Manager
	Reports   *report.Generator
	Metrics   *metrics.Metrics
	// Token authorizes the admin routes.
	Token string
}

// Server owns the router and its collaborators.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *ingest.Pipeline
	queue    *ingest.EmbedQueue
	searcher *search.Searcher
	sessions *session.Service
	hub      *sse.Hub
	plugins  Plugins
	sched    *scheduler.Scheduler
	backups  *backup.Manager
	reports  *report.Generator
	importer *transfer.Importer
	exporter *transfer.Exporter
	metrics  *metrics.Metrics
	token    string
	limiter  *ipLimiter
	started  time.Time
}

// NewServer builds the HTTP surface from its dependencies.
func NewServer(d Deps) *Server {
	perMin := 0
	if d.Config != nil {
		perMin = d.Config.RatePerMinute
	}
	return &Server{
		cfg:      d.Config,
		store:    d.Store,
		pipeline: d.Pipeline,
		queue:    d.Queue,
		searcher: d.Searcher,
		sessions: d.Sessions,
		hub:      d.Hub,
		plugins:  d.Plugins,
		sched:    d.Scheduler,
		backups:  d.Backups,
		reports:  d.Reports,
		importer: transfer.NewImporter(d.Store),
		exporter: transfer.NewExporter(d.Store),
		metrics:  d.Metrics,
		token:    d.Token,
		limiter:  newIPLimiter(perMin),
		started:  time.Now(),
	}
}

// Router assembles the middleware chain and route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(securityHeaders)
	r.Use(loopbackOnly)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: allowLoopbackOrigin,
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:          300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.NotFoundf("no route for %s", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.Validationf("method %s not allowed", r.Method))
	})

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/events", s.handleEvents)
	r.With(maxBody(defaultBodyCap), s.requireToken).Post("/notify", s.handleNotify)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.rateLimit)

		api.Group(func(g chi.Router) {
			g.Use(maxBody(defaultBodyCap))

			g.Post("/observations", s.handleObservationCreate)
			g.Post("/prompts", s.handlePromptCreate)
			g.Post("/sessions/complete", s.handleSessionComplete)
			g.Get("/sessions/{id}/checkpoint", s.handleSessionCheckpoint)

			g.Get("/search", s.handleSearch)
			g.Get("/hybrid-search", s.handleHybridSearch)
			g.Get("/observations/{id}", s.handleObservationGet)
			g.Post("/observations/batch", s.handleObservationBatch)
			g.Get("/timeline", s.handleTimeline)
			g.Get("/context/{project}", s.handleContext)

			g.Post("/knowledge", s.handleKnowledgeCreate)
			g.Post("/memory/save", s.handleMemorySave)
			g.Get("/checkpoint", s.handleLatestCheckpoint)

			g.Get("/embeddings/stats", s.handleEmbeddingStats)
			g.Post("/embeddings/backfill", s.handleEmbeddingBackfill)

			g.Get("/report", s.handleReport)
			g.Post("/backup/create", s.handleBackupCreate)
			g.Get("/backup/list", s.handleBackupList)
			g.With(s.requireToken).Post("/backup/restore", s.handleBackupRestore)
			g.With(s.requireToken).Post("/retention/run", s.handleRetentionRun)

			g.Get("/export/jsonl", s.handleExport)
			g.Get("/projects", s.handleProjects)
			g.With(s.requireToken).Post("/projects/alias", s.handleProjectAlias)
			g.Get("/stats", s.handleStats)
		})

		api.Group(func(g chi.Router) {
			g.Use(maxBody(importBodyCap))
			g.Post("/import/jsonl", s.handleImport)
		})
	})

	return r
}
