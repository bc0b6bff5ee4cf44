package tooladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"kiromemory/internal/search"
	"kiromemory/internal/store"
)

type tool struct {
	name        string
	description string
	schema      json.RawMessage
	run         func(ctx context.Context, args json.RawMessage) (string, error)
}

func (a *Adapter) toolTable() []tool {
	return []tool{
		{
			name:        "search",
			description: "Full-text search over recorded observations and session summaries.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"query":{"type":"string","description":"Search terms"},
				"project":{"type":"string","description":"Restrict to one project"},
				"type":{"type":"string","description":"Restrict to one observation type"},
				"limit":{"type":"integer","description":"Max observations to return (default 20)"}},
				"required":["query"]}`),
			run: a.runSearch,
		},
		{
			name:        "timeline",
			description: "Observations immediately before and after an anchor observation, in chronological order.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"anchor":{"type":"integer","description":"Observation id to center on"},
				"before":{"type":"integer","description":"Rows before the anchor (default 5)"},
				"after":{"type":"integer","description":"Rows after the anchor (default 5)"}},
				"required":["anchor"]}`),
			run: a.runTimeline,
		},
		{
			name:        "get_observations",
			description: "Fetch full observation records by id.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"ids":{"type":"array","items":{"type":"integer"},"description":"Observation ids"}},
				"required":["ids"]}`),
			run: a.runGetObservations,
		},
		{
			name:        "get_context",
			description: "Token-budgeted context for a project: recent summaries, ranked observations and recent prompts.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"project":{"type":"string","description":"Project to build context for"},
				"query":{"type":"string","description":"Optional focus query"},
				"tokens":{"type":"integer","description":"Token budget (default from worker config)"}},
				"required":["project"]}`),
			run: a.runGetContext,
		},
		{
			name:        "semantic_search",
			description: "Hybrid keyword plus vector search, ranked by combined score.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"query":{"type":"string","description":"Search terms"},
				"project":{"type":"string","description":"Restrict to one project"},
				"limit":{"type":"integer","description":"Max results (default 10)"}},
				"required":["query"]}`),
			run: a.runSemanticSearch,
		},
		{
			name:        "embedding_stats",
			description: "Embedding coverage: how many observations have vectors, per model and dimension.",
			schema:      json.RawMessage(`{"type":"object","properties":{}}`),
			run:         a.runEmbeddingStats,
		},
		{
			name:        "store_knowledge",
			description: "Record a durable knowledge entry (constraint, decision, heuristic or rejected approach).",
			schema: json.RawMessage(`{"type":"object","properties":{
				"project":{"type":"string","description":"Project the knowledge belongs to"},
				"knowledge_type":{"type":"string","description":"constraint, decision, heuristic or rejected"},
				"title":{"type":"string","description":"Short label"},
				"content":{"type":"string","description":"The knowledge itself"},
				"metadata":{"type":"object","description":"Optional JSON metadata, e.g. importance"}},
				"required":["project","knowledge_type","title","content"]}`),
			run: a.runStoreKnowledge,
		},
		{
			name:        "resume_session",
			description: "Latest checkpoint for a project: task, progress, next steps and open questions.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"project":{"type":"string","description":"Project to resume"}},
				"required":["project"]}`),
			run: a.runResumeSession,
		},
		{
			name:        "save_memory",
			description: "Save a free-form note as an observation.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"project":{"type":"string","description":"Project the note belongs to"},
				"title":{"type":"string","description":"Short label"},
				"content":{"type":"string","description":"The note itself"},
				"type":{"type":"string","description":"Observation type (default research)"}},
				"required":["project","title","content"]}`),
			run: a.runSaveMemory,
		},
		{
			name:        "generate_report",
			description: "Markdown activity report for a project over a day, week or month.",
			schema: json.RawMessage(`{"type":"object","properties":{
				"project":{"type":"string","description":"Project to report on"},
				"period":{"type":"string","description":"daily, weekly or monthly (default weekly)"}},
				"required":["project"]}`),
			run: a.runGenerateReport,
		},
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ingestAck mirrors the worker's ingest response.
type ingestAck struct {
	ID        int64 `json:"id"`
	Duplicate bool  `json:"duplicate"`
	SessionID int64 `json:"session_id"`
}

func (a *Adapter) runSearch(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query   string `json:"query"`
		Project string `json:"project"`
		Type    string `json:"type"`
		Limit   int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Query == "" {
		return "", errors.New("query is required")
	}
	q := url.Values{"q": {args.Query}}
	if args.Project != "" {
		q.Set("project", args.Project)
	}
	if args.Type != "" {
		q.Set("type", args.Type)
	}
	if args.Limit > 0 {
		q.Set("limit", strconv.Itoa(args.Limit))
	}
	var res struct {
		Observations []*store.Observation `json:"observations"`
		Summaries    []*store.Summary     `json:"summaries"`
		NextCursor   string               `json:"nextCursor"`
	}
	if err := a.client.Get(ctx, "/api/search", q, &res); err != nil {
		return "", err
	}
	return renderSearch(args.Query, res.Observations, res.Summaries, res.NextCursor != ""), nil
}

func (a *Adapter) runTimeline(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Anchor int64 `json:"anchor"`
		Before int   `json:"before"`
		After  int   `json:"after"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Anchor <= 0 {
		return "", errors.New("anchor must be a positive observation id")
	}
	q := url.Values{"anchor": {strconv.FormatInt(args.Anchor, 10)}}
	if args.Before > 0 {
		q.Set("depth_before", strconv.Itoa(args.Before))
	}
	if args.After > 0 {
		q.Set("depth_after", strconv.Itoa(args.After))
	}
	var res struct {
		Observations []*store.Observation `json:"observations"`
	}
	err := a.client.Get(ctx, "/api/timeline", q, &res)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Sprintf("No observation #%d exists.", args.Anchor), nil
	}
	if err != nil {
		return "", err
	}
	return renderTimeline(args.Anchor, res.Observations), nil
}

func (a *Adapter) runGetObservations(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if len(args.IDs) == 0 {
		return "", errors.New("ids is required")
	}
	var res struct {
		Observations []*store.Observation `json:"observations"`
	}
	if err := a.client.Post(ctx, "/api/observations/batch", map[string]any{"ids": args.IDs}, &res); err != nil {
		return "", err
	}
	return renderObservations(args.IDs, res.Observations), nil
}

// contextPayload mirrors the worker's /api/context response.
type contextPayload struct {
	Project    string              `json:"project"`
	Query      string              `json:"query"`
	Summaries  []*store.Summary    `json:"summaries"`
	Items      []search.Item       `json:"items"`
	Prompts    []*store.UserPrompt `json:"prompts"`
	TokensUsed int                 `json:"tokens_used"`
	Budget     int                 `json:"budget"`
}

func (a *Adapter) runGetContext(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Project string `json:"project"`
		Query   string `json:"query"`
		Tokens  int    `json:"tokens"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Project == "" {
		return "", errors.New("project is required")
	}
	q := url.Values{}
	if args.Query != "" {
		q.Set("q", args.Query)
	}
	if args.Tokens > 0 {
		q.Set("tokens", strconv.Itoa(args.Tokens))
	}
	var res contextPayload
	if err := a.client.Get(ctx, "/api/context/"+url.PathEscape(args.Project), q, &res); err != nil {
		return "", err
	}
	return renderContext(&res), nil
}

// hybridHit mirrors one /api/hybrid-search result row.
type hybridHit struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Type    string  `json:"type"`
	Project string  `json:"project"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
}

func (a *Adapter) runSemanticSearch(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query   string `json:"query"`
		Project string `json:"project"`
		Limit   int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Query == "" {
		return "", errors.New("query is required")
	}
	q := url.Values{"q": {args.Query}}
	if args.Project != "" {
		q.Set("project", args.Project)
	}
	if args.Limit > 0 {
		q.Set("limit", strconv.Itoa(args.Limit))
	}
	var res struct {
		Results []hybridHit `json:"results"`
	}
	if err := a.client.Get(ctx, "/api/hybrid-search", q, &res); err != nil {
		return "", err
	}
	return renderHybrid(args.Query, res.Results), nil
}

// embeddingStatsPayload mirrors /api/embeddings/stats. Dimension keys arrive
// as strings because JSON object keys always do.
type embeddingStatsPayload struct {
	Observations int64            `json:"observations"`
	Embedded     int64            `json:"embedded"`
	Coverage     float64          `json:"coverage"`
	Models       map[string]int64 `json:"models"`
	Dimensions   map[string]int64 `json:"dimensions"`
	QueueDepth   int              `json:"queue_depth"`
}

func (a *Adapter) runEmbeddingStats(ctx context.Context, raw json.RawMessage) (string, error) {
	var res embeddingStatsPayload
	if err := a.client.Get(ctx, "/api/embeddings/stats", nil, &res); err != nil {
		return "", err
	}
	return renderEmbeddingStats(&res), nil
}

func (a *Adapter) runStoreKnowledge(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Project       string          `json:"project"`
		KnowledgeType string          `json:"knowledge_type"`
		Title         string          `json:"title"`
		Content       string          `json:"content"`
		Metadata      json.RawMessage `json:"metadata,omitempty"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	var ack ingestAck
	if err := a.client.Post(ctx, "/api/knowledge", args, &ack); err != nil {
		return "", err
	}
	if ack.Duplicate {
		return fmt.Sprintf("Already recorded: %s %q is a duplicate of an existing entry.", args.KnowledgeType, args.Title), nil
	}
	return fmt.Sprintf("Stored %s #%d: %s", args.KnowledgeType, ack.ID, args.Title), nil
}

func (a *Adapter) runResumeSession(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Project string `json:"project"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Project == "" {
		return "", errors.New("project is required")
	}
	var res struct {
		Checkpoint *store.Checkpoint `json:"checkpoint"`
	}
	err := a.client.Get(ctx, "/api/checkpoint", url.Values{"project": {args.Project}}, &res)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Sprintf("No checkpoint recorded for project %q yet.", args.Project), nil
	}
	if err != nil {
		return "", err
	}
	return renderCheckpoint(res.Checkpoint), nil
}

func (a *Adapter) runSaveMemory(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Project string `json:"project"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Type    string `json:"type,omitempty"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	var ack ingestAck
	if err := a.client.Post(ctx, "/api/memory/save", args, &ack); err != nil {
		return "", err
	}
	if ack.Duplicate {
		return fmt.Sprintf("Already saved: %q duplicates an existing memory.", args.Title), nil
	}
	return fmt.Sprintf("Saved memory #%d: %s", ack.ID, args.Title), nil
}

func (a *Adapter) runGenerateReport(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Project string `json:"project"`
		Period  string `json:"period"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Project == "" {
		return "", errors.New("project is required")
	}
	q := url.Values{"project": {args.Project}, "format": {"markdown"}}
	if args.Period != "" {
		q.Set("period", args.Period)
	}
	return a.client.GetText(ctx, "/api/report", q)
}
