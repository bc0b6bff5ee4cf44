package httpapi

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
	"kiromemory/internal/report"
	"kiromemory/internal/scoring"
	"kiromemory/internal/search"
	"kiromemory/internal/store"
	"kiromemory/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// touchAccessed stamps read rows for the decay signal. Failures only cost
// freshness, so they are logged and dropped.
func (s *Server) touchAccessed(r *http.Request, obs []*store.Observation) {
	if len(obs) == 0 {
		return
	}
	ids := make([]int64, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	if err := s.store.TouchAccessed(r.Context(), ids); err != nil {
		logging.Get(logging.CategorySearch).Debugw("touch accessed failed", "error", err)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, r, apperr.Validationf("q is required"))
		return
	}
	project := r.URL.Query().Get("project")
	typ := r.URL.Query().Get("type")
	limit := queryInt(r, "limit", 20)
	cursor := store.DecodeCursor(r.URL.Query().Get("cursor"))

	page, err := s.store.SearchObservations(r.Context(), q, project, typ, limit, cursor)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	summaries, err := s.store.SearchSummaries(r.Context(), q, project, 5)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	s.touchAccessed(r, page.Observations)
	if s.metrics != nil {
		s.metrics.SearchesServed.WithLabelValues("fts").Inc()
	}

	resp := map[string]any{
		"observations": orEmptyObservations(page.Observations),
		"summaries":    orEmptySummaries(summaries),
	}
	if page.NextCursor != "" {
		resp["nextCursor"] = page.NextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// hybridHit flattens a scored result for the wire.
type hybridHit struct {
	ID      int64           `json:"id"`
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Type    string          `json:"type"`
	Project string          `json:"project"`
	Score   float64         `json:"score"`
	Source  string          `json:"source"`
	Signals scoring.Signals `json:"signals"`
}

func (s *Server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, r, apperr.Validationf("q is required"))
		return
	}
	project := r.URL.Query().Get("project")
	limit := queryInt(r, "limit", 10)

	results, err := s.searcher.Hybrid(r.Context(), q, project, limit)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}

	hits := make([]hybridHit, 0, len(results))
	touched := make([]*store.Observation, 0, len(results))
	for _, res := range results {
		o := res.Observation
		content := o.Text
		if content == "" {
			content = o.Narrative
		}
		hits = append(hits, hybridHit{
			ID:      o.ID,
			Title:   o.Title,
			Content: content,
			Type:    o.Type,
			Project: o.Project,
			Score:   res.Score,
			Source:  res.Source,
			Signals: res.Signals,
		})
		touched = append(touched, o)
	}
	s.touchAccessed(r, touched)
	if s.metrics != nil {
		s.metrics.SearchesServed.WithLabelValues("hybrid").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (s *Server) handleObservationBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, r, apperr.Validationf("ids is required"))
		return
	}

	obs, err := s.store.GetObservations(r.Context(), body.IDs)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	s.touchAccessed(r, obs)
	writeJSON(w, http.StatusOK, map[string]any{"observations": orEmptyObservations(obs)})
}

func (s *Server) handleObservationGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, apperr.Validationf("observation id must be a positive integer"))
		return
	}
	o, err := s.store.GetObservation(r.Context(), id)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if o == nil {
		writeError(w, r, apperr.NotFoundf("observation %d not found", id))
		return
	}
	s.touchAccessed(r, []*store.Observation{o})
	writeJSON(w, http.StatusOK, map[string]any{"observation": o})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	anchor, err := strconv.ParseInt(r.URL.Query().Get("anchor"), 10, 64)
	if err != nil || anchor <= 0 {
		writeError(w, r, apperr.Validationf("anchor must be a positive observation id"))
		return
	}
	before := queryInt(r, "depth_before", 5)
	after := queryInt(r, "depth_after", 5)

	obs, err := s.store.Timeline(r.Context(), anchor, before, after)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if obs == nil {
		writeError(w, r, apperr.NotFoundf("observation %d not found", anchor))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": orEmptyObservations(obs)})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	query := r.URL.Query().Get("q")
	budget := queryInt(r, "tokens", s.contextBudget())

	sc, err := s.searcher.BuildContext(r.Context(), project, query, budget)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	prompts, err := s.store.RecentPrompts(r.Context(), project, 10)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if s.metrics != nil {
		s.metrics.SearchesServed.WithLabelValues("context").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":     sc.Project,
		"query":       sc.Query,
		"summaries":   orEmptySummaries(sc.Summaries),
		"items":       sc.Items,
		"prompts":     orEmptyPrompts(prompts),
		"tokens_used": sc.TokensUsed,
		"budget":      sc.Budget,
	})
}

func (s *Server) contextBudget() int {
	if s.cfg != nil && s.cfg.ContextTokens > 0 {
		return s.cfg.ContextTokens
	}
	return search.DefaultContextBudget
}

func (s *Server) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, r, apperr.Validationf("project is required"))
		return
	}
	cp, err := s.store.LatestCheckpoint(r.Context(), project)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if cp == nil {
		writeError(w, r, apperr.NotFoundf("no checkpoint for project %q", project))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cp})
}

func (s *Server) handleSessionCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, apperr.Validationf("session id must be a positive integer"))
		return
	}
	cps, err := s.store.CheckpointsBySession(r.Context(), id)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if len(cps) == 0 {
		writeError(w, r, apperr.NotFoundf("no checkpoint for session %d", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cps[0]})
}

func (s *Server) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetEmbeddingStats(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	depth := 0
	if s.queue != nil {
		depth = s.queue.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"observations": stats.Observations,
		"embedded":     stats.Embedded,
		"coverage":     stats.Coverage,
		"models":       stats.Models,
		"dimensions":   stats.Dimensions,
		"queue_depth":  depth,
	})
}

func (s *Server) handleEmbeddingBackfill(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, r, apperr.Transient("embedding queue not running", nil))
		return
	}
	n, err := s.queue.Backfill(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"embedded": n})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	period, err := report.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "markdown" {
		writeError(w, r, apperr.Validationf("format must be json or markdown"))
		return
	}

	rep, err := s.reports.Generate(r.Context(), r.URL.Query().Get("project"), period)
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	if format == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(rep.Markdown()))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// projectEntry is one row of /api/projects.
type projectEntry struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name,omitempty"`
	Observations int64  `json:"observations"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Projects(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	aliases, err := s.store.ProjectAliases(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}

	entries := make([]projectEntry, 0, len(counts))
	for name, n := range counts {
		entries = append(entries, projectEntry{
			Name:         name,
			DisplayName:  aliases[name],
			Observations: n,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"projects": entries})
}

func (s *Server) handleProjectAlias(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectName string `json:"project_name"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.ProjectName == "" || body.DisplayName == "" {
		writeError(w, r, apperr.Validationf("project_name and display_name are required"))
		return
	}
	if err := s.store.SetProjectAlias(r.Context(), body.ProjectName, body.DisplayName); err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_name": body.ProjectName,
		"display_name": body.DisplayName,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal(err))
		return
	}
	depth := 0
	if s.queue != nil {
		depth = s.queue.Len()
	}
	active := 0
	if s.plugins != nil {
		active = s.plugins.ActiveCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts":         counts,
		"version":        version.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"sse_clients":    s.hub.ClientCount(),
		"sse_dropped":    s.hub.Dropped(),
		"embed_queue":    depth,
		"active_plugins": active,
	})
}

// orEmpty* keep empty result sets as [] on the wire instead of null.

func orEmptyObservations(obs []*store.Observation) []*store.Observation {
	if obs == nil {
		return []*store.Observation{}
	}
	return obs
}

func orEmptySummaries(sums []*store.Summary) []*store.Summary {
	if sums == nil {
		return []*store.Summary{}
	}
	return sums
}

func orEmptyPrompts(ps []*store.UserPrompt) []*store.UserPrompt {
	if ps == nil {
		return []*store.UserPrompt{}
	}
	return ps
}
