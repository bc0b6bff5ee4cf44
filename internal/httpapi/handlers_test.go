package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/ingest"
	"kiromemory/internal/store"
)

func TestObservationIngestAndDuplicate(t *testing.T) {
	a := newTestAPI(t)
	c := ingest.Candidate{
		Project:   "kiro",
		Type:      "debugging",
		Title:     "traced the flaky retry loop",
		Narrative: "the backoff never slept because the timer was reset first",
	}

	var first ingestResponse
	status := a.post(t, "/api/observations", c, &first)
	require.Equal(t, http.StatusCreated, status)
	assert.Greater(t, first.ID, int64(0))
	assert.False(t, first.Duplicate)

	var second ingestResponse
	status = a.post(t, "/api/observations", c, &second)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(-1), second.ID)
	assert.True(t, second.Duplicate)
}

func TestObservationValidation(t *testing.T) {
	a := newTestAPI(t)

	var body errorBody
	status := a.post(t, "/api/observations", map[string]string{"title": "no type"}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body.Kind)
}

func TestSearchRequiresQuery(t *testing.T) {
	a := newTestAPI(t)

	var body errorBody
	status := a.get(t, "/api/search", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body.Kind)
}

func TestSearchFindsObservationsAndSummaries(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{
		Project: "kiro", Type: "research",
		Title: "picked sqlite for the store", Narrative: "single file, no daemon",
	})
	a.seedObservation(t, ingest.Candidate{
		Project: "kiro", Type: "debugging",
		Title: "websocket reconnect storm", Narrative: "exponential backoff fixed it",
	})
	_, err := a.st.InsertSummary(context.Background(), store.NewSummary{
		Project: "kiro",
		Request: "investigate sqlite locking",
		Learned: "wal mode removes most writer stalls",
	})
	require.NoError(t, err)

	var body struct {
		Observations []*store.Observation `json:"observations"`
		Summaries    []*store.Summary     `json:"summaries"`
	}
	status := a.get(t, "/api/search?q=sqlite&project=kiro", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Observations, 1)
	assert.Equal(t, "picked sqlite for the store", body.Observations[0].Title)
	require.Len(t, body.Summaries, 1)
	assert.Contains(t, body.Summaries[0].Request, "sqlite")
}

func TestSearchPagination(t *testing.T) {
	a := newTestAPI(t)
	for i := 0; i < 3; i++ {
		a.seedObservation(t, ingest.Candidate{
			Project: "kiro", Type: "research",
			Title: fmt.Sprintf("pagination probe %d", i),
		})
	}

	var page struct {
		Observations []*store.Observation `json:"observations"`
		NextCursor   string               `json:"nextCursor"`
	}
	status := a.get(t, "/api/search?q=pagination&limit=2", &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Observations, 2)
	require.NotEmpty(t, page.NextCursor)

	var rest struct {
		Observations []*store.Observation `json:"observations"`
		NextCursor   string               `json:"nextCursor"`
	}
	status = a.get(t, "/api/search?q=pagination&limit=2&cursor="+page.NextCursor, &rest)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, rest.Observations, 1)
	assert.Empty(t, rest.NextCursor)
}

func TestSearchTouchesLastAccessed(t *testing.T) {
	a := newTestAPI(t)
	o := a.seedObservation(t, ingest.Candidate{
		Project: "kiro", Type: "research", Title: "decay probe",
	})
	require.Nil(t, o.LastAccessedEpoch)

	status := a.get(t, "/api/search?q=decay", nil)
	require.Equal(t, http.StatusOK, status)

	got, err := a.st.GetObservation(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessedEpoch)
	assert.Positive(t, *got.LastAccessedEpoch)
}

func TestHybridSearchFlattensResults(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{
		Project: "kiro", Type: "decision",
		Title: "chose grpc for transport", Text: "latency beat the json gateway",
	})

	var body struct {
		Results []hybridHit `json:"results"`
	}
	status := a.get(t, "/api/hybrid-search?q=grpc", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Results, 1)

	hit := body.Results[0]
	assert.Equal(t, "chose grpc for transport", hit.Title)
	assert.Equal(t, "latency beat the json gateway", hit.Content)
	assert.Equal(t, "decision", hit.Type)
	assert.Equal(t, "fts", hit.Source)
	assert.Positive(t, hit.Score)
}

func TestObservationBatchKeepsInputOrder(t *testing.T) {
	a := newTestAPI(t)
	first := a.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "research", Title: "alpha"})
	second := a.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "research", Title: "beta"})

	var body struct {
		Observations []*store.Observation `json:"observations"`
	}
	status := a.post(t, "/api/observations/batch",
		map[string][]int64{"ids": {second.ID, first.ID, 99999}}, &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Observations, 2)
	assert.Equal(t, second.ID, body.Observations[0].ID)
	assert.Equal(t, first.ID, body.Observations[1].ID)
}

func TestObservationBatchRequiresIDs(t *testing.T) {
	a := newTestAPI(t)

	var body errorBody
	status := a.post(t, "/api/observations/batch", map[string][]int64{"ids": {}}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body.Kind)
}

func TestObservationGetByID(t *testing.T) {
	a := newTestAPI(t)
	o := a.seedObservation(t, ingest.Candidate{
		Project: "kiro", Type: "research", Title: "single fetch probe",
	})

	var body struct {
		Observation *store.Observation `json:"observation"`
	}
	status := a.get(t, fmt.Sprintf("/api/observations/%d", o.ID), &body)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, body.Observation)
	assert.Equal(t, o.ID, body.Observation.ID)
	assert.Equal(t, "single fetch probe", body.Observation.Title)

	// The read stamps last_accessed for the decay signal.
	got, err := a.st.GetObservation(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessedEpoch)

	status = a.get(t, "/api/observations/424242", nil)
	assert.Equal(t, http.StatusNotFound, status)

	var bad errorBody
	status = a.get(t, "/api/observations/zero", &bad)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", bad.Kind)
}

func TestTimelineWindow(t *testing.T) {
	a := newTestAPI(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		o := a.seedObservation(t, ingest.Candidate{
			Project: "kiro", Type: "research", Title: fmt.Sprintf("step %d", i),
		})
		ids = append(ids, o.ID)
	}

	var body struct {
		Observations []*store.Observation `json:"observations"`
	}
	path := fmt.Sprintf("/api/timeline?anchor=%d&depth_before=1&depth_after=1", ids[2])
	status := a.get(t, path, &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Observations, 3)
	assert.Equal(t, ids[1], body.Observations[0].ID)
	assert.Equal(t, ids[2], body.Observations[1].ID)
	assert.Equal(t, ids[3], body.Observations[2].ID)

	status = a.get(t, "/api/timeline?anchor=424242", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestContextComposesPromptsAndSummaries(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{
		Project: "kiro", Type: "decision", Title: "kept the flat schema",
	})
	_, err := a.st.InsertSummary(context.Background(), store.NewSummary{
		Project: "kiro", Request: "schema review",
	})
	require.NoError(t, err)
	var prompt struct {
		Prompt *store.UserPrompt `json:"prompt"`
	}
	status := a.post(t, "/api/prompts", map[string]string{
		"content_session_id": "sess-ctx",
		"project":            "kiro",
		"prompt_text":        "why flat?",
	}, &prompt)
	require.Equal(t, http.StatusCreated, status)

	var body struct {
		Project    string              `json:"project"`
		Summaries  []*store.Summary    `json:"summaries"`
		Items      []json.RawMessage   `json:"items"`
		Prompts    []*store.UserPrompt `json:"prompts"`
		TokensUsed int                 `json:"tokens_used"`
		Budget     int                 `json:"budget"`
	}
	status = a.get(t, "/api/context/kiro", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "kiro", body.Project)
	require.Len(t, body.Summaries, 1)
	require.NotEmpty(t, body.Items)
	require.Len(t, body.Prompts, 1)
	assert.Equal(t, "why flat?", body.Prompts[0].PromptText)
	assert.Equal(t, 2000, body.Budget)
	assert.Positive(t, body.TokensUsed)
}

func TestKnowledgeTypeValidation(t *testing.T) {
	a := newTestAPI(t)

	var fail errorBody
	status := a.post(t, "/api/knowledge", map[string]any{
		"project": "kiro", "knowledge_type": "opinion", "title": "x", "content": "y",
	}, &fail)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, fail.Error, "constraint")

	var ok ingestResponse
	status = a.post(t, "/api/knowledge", map[string]any{
		"project":        "kiro",
		"knowledge_type": "constraint",
		"title":          "sqlite is the only store",
		"content":        "no external databases in the worker",
		"metadata":       map[string]string{"source": "review"},
	}, &ok)
	require.Equal(t, http.StatusCreated, status)

	o, err := a.st.GetObservation(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, "constraint", o.Type)
	assert.Contains(t, o.Facts, "review")
}

func TestMemorySaveDefaultsToResearch(t *testing.T) {
	a := newTestAPI(t)

	var resp ingestResponse
	status := a.post(t, "/api/memory/save", map[string]string{
		"project": "kiro", "title": "remember the retry cap", "content": "max 5 attempts",
	}, &resp)
	require.Equal(t, http.StatusCreated, status)

	o, err := a.st.GetObservation(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "research", o.Type)
}

func TestSessionCompleteFlow(t *testing.T) {
	a := newTestAPI(t)
	const sid = "content-session-7"

	status := a.post(t, "/api/prompts", map[string]string{
		"content_session_id": sid,
		"project":            "kiro",
		"prompt_text":        "wire the scheduler",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	a.seedObservation(t, ingest.Candidate{
		ContentSessionID: sid,
		Project:          "kiro",
		Type:             "implementation",
		Title:            "scheduler loop landed",
	})

	var done struct {
		Session      *store.Session    `json:"session"`
		Summary      *store.Summary    `json:"summary"`
		Checkpoint   *store.Checkpoint `json:"checkpoint"`
		Transitioned bool              `json:"transitioned"`
	}
	status = a.post(t, "/api/sessions/complete", map[string]string{"content_session_id": sid}, &done)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, done.Transitioned)
	require.NotNil(t, done.Session)
	require.NotNil(t, done.Summary)
	require.NotNil(t, done.Checkpoint)

	// Completing again returns the first artifacts without a transition.
	var again struct {
		Transitioned bool           `json:"transitioned"`
		Summary      *store.Summary `json:"summary"`
	}
	status = a.post(t, "/api/sessions/complete", map[string]string{"content_session_id": sid}, &again)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, again.Transitioned)
	assert.Equal(t, done.Summary.ID, again.Summary.ID)

	// The checkpoint is reachable by session id and by project.
	var bySession struct {
		Checkpoint *store.Checkpoint `json:"checkpoint"`
	}
	path := fmt.Sprintf("/api/sessions/%d/checkpoint", done.Session.ID)
	require.Equal(t, http.StatusOK, a.get(t, path, &bySession))
	assert.Equal(t, done.Checkpoint.ID, bySession.Checkpoint.ID)

	var byProject struct {
		Checkpoint *store.Checkpoint `json:"checkpoint"`
	}
	require.Equal(t, http.StatusOK, a.get(t, "/api/checkpoint?project=kiro", &byProject))
	assert.Equal(t, done.Checkpoint.ID, byProject.Checkpoint.ID)

	status = a.post(t, "/api/sessions/complete", map[string]string{"content_session_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCheckpointNotFound(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, a.get(t, "/api/checkpoint?project=empty", nil))
	assert.Equal(t, http.StatusBadRequest, a.get(t, "/api/checkpoint", nil))
	assert.Equal(t, http.StatusNotFound, a.get(t, "/api/sessions/12345/checkpoint", nil))
}

func TestEmbeddingStatsWithoutQueue(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "research", Title: "unembedded"})

	var body struct {
		Observations int64   `json:"observations"`
		Embedded     int64   `json:"embedded"`
		Coverage     float64 `json:"coverage"`
		QueueDepth   int     `json:"queue_depth"`
	}
	status := a.get(t, "/api/embeddings/stats", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), body.Observations)
	assert.Zero(t, body.Embedded)
	assert.Zero(t, body.QueueDepth)

	// No queue wired means backfill is unavailable, not broken.
	assert.Equal(t, http.StatusServiceUnavailable, a.post(t, "/api/embeddings/backfill", nil, nil))
}

func TestReportFormats(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "debugging", Title: "report seed"})

	var rep struct {
		Project string `json:"project"`
	}
	status := a.get(t, "/api/report?project=kiro&period=weekly", &rep)
	require.Equal(t, http.StatusOK, status)

	resp, err := a.ts.Client().Get(a.ts.URL + "/api/report?project=kiro&format=markdown")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
	assert.Contains(t, string(raw), "#")

	assert.Equal(t, http.StatusBadRequest, a.get(t, "/api/report?period=hourly", nil))
	assert.Equal(t, http.StatusBadRequest, a.get(t, "/api/report?format=pdf", nil))
}

func TestProjectsAndAlias(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{Project: "zeta", Type: "research", Title: "z"})
	a.seedObservation(t, ingest.Candidate{Project: "alpha", Type: "research", Title: "a"})

	status := a.request(t, http.MethodPost, "/api/projects/alias", testToken,
		map[string]string{"project_name": "alpha", "display_name": "Alpha Mainline"}, nil)
	require.Equal(t, http.StatusOK, status)

	var body struct {
		Projects []projectEntry `json:"projects"`
	}
	require.Equal(t, http.StatusOK, a.get(t, "/api/projects", &body))
	require.Len(t, body.Projects, 2)
	assert.Equal(t, "alpha", body.Projects[0].Name)
	assert.Equal(t, "Alpha Mainline", body.Projects[0].DisplayName)
	assert.Equal(t, "zeta", body.Projects[1].Name)
	assert.Empty(t, body.Projects[1].DisplayName)
}

func TestStatsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "research", Title: "counted"})

	var body struct {
		Counts        map[string]int64 `json:"counts"`
		Version       string           `json:"version"`
		UptimeSeconds int64            `json:"uptime_seconds"`
		SSEClients    int              `json:"sse_clients"`
		SSEDropped    uint64           `json:"sse_dropped"`
	}
	status := a.get(t, "/api/stats", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), body.Counts["observations"])
	assert.NotEmpty(t, body.Version)
	assert.Zero(t, body.SSEClients)
	assert.Zero(t, body.SSEDropped)
}

func TestRetentionRunWithOverride(t *testing.T) {
	a := newTestAPI(t)

	// Two-day-old row: inside the default window, outside a 1 day one.
	aged := time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, a.st.ImportBatch(context.Background(), []*store.Observation{{
		Project:        "kiro",
		Type:           "research",
		Title:          "aging row",
		CreatedAtEpoch: aged,
	}}, nil, nil))

	var kept struct {
		Deleted store.RetentionCounts `json:"deleted"`
	}
	status := a.request(t, http.MethodPost, "/api/retention/run", testToken, nil, &kept)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, kept.Deleted.Observations)

	var swept struct {
		Deleted store.RetentionCounts `json:"deleted"`
		Total   int64                 `json:"total"`
	}
	status = a.request(t, http.MethodPost, "/api/retention/run", testToken,
		map[string]int{"observation_days": 1}, &swept)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), swept.Deleted.Observations)
	assert.Equal(t, int64(1), swept.Total)
}

func TestBackupCreateListRestore(t *testing.T) {
	a := newTestAPI(t)
	a.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "research", Title: "snapshot me"})

	var created struct {
		Backup struct {
			Filename string `json:"filename"`
		} `json:"backup"`
	}
	status := a.post(t, "/api/backup/create", nil, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.Backup.Filename)

	var listed struct {
		Backups []json.RawMessage `json:"backups"`
	}
	require.Equal(t, http.StatusOK, a.get(t, "/api/backup/list", &listed))
	assert.Len(t, listed.Backups, 1)

	status = a.request(t, http.MethodPost, "/api/backup/restore", testToken,
		map[string]string{"filename": created.Backup.Filename}, nil)
	assert.Equal(t, http.StatusOK, status)

	status = a.request(t, http.MethodPost, "/api/backup/restore", testToken,
		map[string]string{"filename": "../../etc/passwd"}, nil)
	assert.NotEqual(t, http.StatusOK, status)
}

func TestImportExportRoundTrip(t *testing.T) {
	src := newTestAPI(t)
	src.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "research", Title: "exported one"})
	src.seedObservation(t, ingest.Candidate{Project: "kiro", Type: "decision", Title: "exported two"})

	resp, err := src.ts.Client().Get(src.ts.URL + "/api/export/jsonl?project=kiro")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "ndjson")
	require.NotEmpty(t, raw)

	dst := newTestAPI(t)

	// A dry run reports work without writing rows.
	var dry struct {
		Imported int  `json:"imported"`
		DryRun   bool `json:"dry_run"`
	}
	req, err := http.NewRequest(http.MethodPost, dst.ts.URL+"/api/import/jsonl?dry_run=true", strings.NewReader(string(raw)))
	require.NoError(t, err)
	dryResp, err := dst.ts.Client().Do(req)
	require.NoError(t, err)
	dryRaw, err := io.ReadAll(dryResp.Body)
	require.NoError(t, err)
	dryResp.Body.Close()
	require.Equal(t, http.StatusOK, dryResp.StatusCode)
	require.NoError(t, json.Unmarshal(dryRaw, &dry))
	assert.Equal(t, 2, dry.Imported)
	assert.True(t, dry.DryRun)

	counts, err := dst.st.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts["observations"])

	// The real import lands both rows; replaying it skips them as dupes.
	var real struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	req, err = http.NewRequest(http.MethodPost, dst.ts.URL+"/api/import/jsonl", strings.NewReader(string(raw)))
	require.NoError(t, err)
	realResp, err := dst.ts.Client().Do(req)
	require.NoError(t, err)
	realRaw, err := io.ReadAll(realResp.Body)
	require.NoError(t, err)
	realResp.Body.Close()
	require.Equal(t, http.StatusOK, realResp.StatusCode)
	require.NoError(t, json.Unmarshal(realRaw, &real))
	assert.Equal(t, 2, real.Imported)

	var replay struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	req, err = http.NewRequest(http.MethodPost, dst.ts.URL+"/api/import/jsonl", strings.NewReader(string(raw)))
	require.NoError(t, err)
	replayResp, err := dst.ts.Client().Do(req)
	require.NoError(t, err)
	replayRaw, err := io.ReadAll(replayResp.Body)
	require.NoError(t, err)
	replayResp.Body.Close()
	require.NoError(t, json.Unmarshal(replayRaw, &replay))
	assert.Zero(t, replay.Imported)
	assert.Equal(t, 2, replay.Skipped)
}
