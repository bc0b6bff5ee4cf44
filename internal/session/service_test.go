package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/apperr"
	"kiromemory/internal/store"
	"kiromemory/internal/summary"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, summary.Template{}), st
}

func mustObserve(t *testing.T, st *store.Store, n store.NewObservation) *store.Observation {
	t.Helper()
	o, dup, err := st.InsertObservation(context.Background(), n)
	require.NoError(t, err)
	require.False(t, dup)
	return o
}

func TestStartCreatesOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.Start(ctx, "sess-1", "kiro")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, store.SessionActive, first.Status)

	again, created, err := svc.Start(ctx, "sess-1", "kiro")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestStartValidatesContentID(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Start(context.Background(), "", "kiro")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRecordPromptEnsuresSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	p1, created, err := svc.RecordPrompt(ctx, "sess-p", "kiro", "fix the flaky pagination test")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, p1.PromptNumber)

	p2, created, err := svc.RecordPrompt(ctx, "sess-p", "kiro", "now make it fast")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, p2.PromptNumber)

	sess, err := st.SessionByContentID(ctx, "sess-p")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "fix the flaky pagination test", sess.UserPrompt)
}

func TestRecordPromptValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.RecordPrompt(ctx, "sess-p", "kiro", "   ")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, _, err = svc.RecordPrompt(ctx, "", "kiro", "hello")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCompleteSynthesizesArtifacts(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx, "sess-c", "kiro")
	require.NoError(t, err)
	_, _, err = svc.RecordPrompt(ctx, "sess-c", "kiro", "wire the retry loop")
	require.NoError(t, err)

	mustObserve(t, st, store.NewObservation{
		MemorySessionID: sess.ID, Project: "kiro", Type: "file-read",
		Title: "Read fetcher.go", FilesRead: "internal/fetch/fetcher.go",
	})
	mustObserve(t, st, store.NewObservation{
		MemorySessionID: sess.ID, Project: "kiro", Type: "file-write",
		Title: "Added the retry loop", Text: "TODO: tune the backoff cap",
		FilesModified: "internal/fetch/fetcher.go, internal/fetch/retry.go",
	})

	res, err := svc.Complete(ctx, "sess-c")
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, store.SessionCompleted, res.Session.Status)

	require.NotNil(t, res.Summary)
	assert.Equal(t, "wire the retry loop", res.Summary.Request)
	assert.Contains(t, res.Summary.Investigated, "Read fetcher.go")
	assert.Contains(t, res.Summary.Completed, "Added the retry loop")
	assert.Contains(t, res.Summary.NextSteps, "tune the backoff cap")

	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, "wire the retry loop", res.Checkpoint.Task)
	assert.Equal(t, res.Summary.NextSteps, res.Checkpoint.NextSteps)
	assert.True(t, strings.HasPrefix(res.Checkpoint.RelevantFiles, "internal/fetch/fetcher.go,internal/fetch/retry.go"))

	var headers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Checkpoint.ContextSnapshot), &headers))
	require.Len(t, headers, 2)
	assert.Equal(t, "Added the retry loop", headers[0]["title"])
}

func TestCompleteIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx, "sess-i", "kiro")
	require.NoError(t, err)
	mustObserve(t, st, store.NewObservation{
		MemorySessionID: sess.ID, Project: "kiro", Type: "command", Title: "ran the suite",
	})

	first, err := svc.Complete(ctx, "sess-i")
	require.NoError(t, err)
	require.True(t, first.Transitioned)

	second, err := svc.Complete(ctx, "sess-i")
	require.NoError(t, err)
	assert.False(t, second.Transitioned)
	require.NotNil(t, second.Summary)
	require.NotNil(t, second.Checkpoint)
	assert.Equal(t, first.Summary.ID, second.Summary.ID)
	assert.Equal(t, first.Checkpoint.ID, second.Checkpoint.ID)
}

func TestCompleteUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Complete(context.Background(), "never-seen")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSnapshotSpansProject(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.Start(ctx, "sess-snap", "kiro")
	require.NoError(t, err)
	mustObserve(t, st, store.NewObservation{
		MemorySessionID: sess.ID, Project: "kiro", Type: "command", Title: "in session",
	})
	// Same project, different session: still part of the project snapshot.
	other, _, err := svc.Start(ctx, "sess-other", "kiro")
	require.NoError(t, err)
	mustObserve(t, st, store.NewObservation{
		MemorySessionID: other.ID, Project: "kiro", Type: "command", Title: "outside session",
	})
	// Different project: excluded.
	mustObserve(t, st, store.NewObservation{Project: "elsewhere", Type: "command", Title: "foreign"})

	res, err := svc.Complete(ctx, "sess-snap")
	require.NoError(t, err)

	var headers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Checkpoint.ContextSnapshot), &headers))
	titles := make([]string, len(headers))
	for i, h := range headers {
		titles[i] = h["title"].(string)
	}
	assert.Contains(t, titles, "in session")
	assert.Contains(t, titles, "outside session")
	assert.NotContains(t, titles, "foreign")
}

func TestRelevantFiles(t *testing.T) {
	obs := []*store.Observation{
		{FilesModified: "b.go, a.go", FilesRead: "c.go"},
		{FilesRead: "b.go,d.go"},
	}
	assert.Equal(t, "b.go,a.go,c.go,d.go", relevantFiles(obs))

	var many []*store.Observation
	for i := 0; i < 25; i++ {
		many = append(many, &store.Observation{FilesModified: string(rune('a'+i)) + ".go"})
	}
	assert.Len(t, strings.Split(relevantFiles(many), ","), maxRelevantFiles)
}
