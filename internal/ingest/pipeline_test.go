package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kiromemory/internal/apperr"
	"kiromemory/internal/category"
	"kiromemory/internal/sse"
	"kiromemory/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by go.opencensus.io's package init when the genai SDK is
		// linked in; it is not stoppable from test code.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type recordingHooks struct {
	mu            sync.Mutex
	observations  []*store.Observation
	sessionStarts []*store.Session
}

func (r *recordingHooks) EmitObservation(_ context.Context, o *store.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, o)
}

func (r *recordingHooks) EmitSessionStart(_ context.Context, s *store.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionStarts = append(r.sessionStarts, s)
}

func TestValidateRejectsBadCandidates(t *testing.T) {
	cases := []struct {
		name string
		c    Candidate
	}{
		{"missing type", Candidate{Title: "x"}},
		{"missing title", Candidate{Type: "file-read"}},
		{"type too long", Candidate{Type: strings.Repeat("t", MaxTypeLen+1), Title: "x"}},
		{"title too long", Candidate{Type: "file-read", Title: strings.Repeat("t", MaxTitleLen+1)}},
		{"text too large", Candidate{Type: "file-read", Title: "x", Text: strings.Repeat("a", MaxContentLen+1)}},
		{"negative prompt number", Candidate{Type: "file-read", Title: "x", PromptNumber: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Validate()
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	ok := Candidate{Type: "file-read", Title: "read main.go"}
	assert.NoError(t, ok.Validate())
}

func TestIngestStoresRedactedCategorizedRow(t *testing.T) {
	st := newTestStore(t)
	p := NewPipeline(Deps{Store: st})

	res, err := p.Ingest(context.Background(), Candidate{
		Project: "kiro",
		Type:    "command",
		Title:   "exported credentials",
		Text:    "export API_KEY=sk-abcdef1234567890abcdef12 && ./deploy",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Observation)
	assert.False(t, res.Duplicate)

	got, err := st.GetObservation(context.Background(), res.Observation.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Text, "sk-abcdef1234567890abcdef12")
	assert.Contains(t, got.Text, "REDACTED")
	assert.NotEmpty(t, got.AutoCategory)
}

func TestIngestAssignsKnowledgeCategory(t *testing.T) {
	st := newTestStore(t)
	p := NewPipeline(Deps{Store: st})

	res, err := p.Ingest(context.Background(), Candidate{
		Project:   "kiro",
		Type:      "decision",
		Title:     "store vectors as little-endian blobs",
		Narrative: "portable across drivers",
	})
	require.NoError(t, err)
	assert.Equal(t, category.Planning, res.Observation.AutoCategory)
}

func TestIngestResolvesSessionAndAnnouncesIt(t *testing.T) {
	st := newTestStore(t)
	hub := sse.NewHub()
	defer hub.Close()
	hooks := &recordingHooks{}
	p := NewPipeline(Deps{Store: st, Hub: hub, Hooks: hooks})

	client := hub.Subscribe()
	defer client.Close()

	res, err := p.Ingest(context.Background(), Candidate{
		ContentSessionID: "sess-abc",
		Project:          "kiro",
		Type:             "file-read",
		Title:            "read pipeline.go",
	})
	require.NoError(t, err)
	assert.Positive(t, res.SessionID)

	ev := <-client.Events()
	assert.Equal(t, sse.EventSessionStarted, ev.Name)
	ev = <-client.Events()
	assert.Equal(t, sse.EventObservationCreated, ev.Name)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Len(t, hooks.sessionStarts, 1)
	assert.Equal(t, "sess-abc", hooks.sessionStarts[0].ContentSessionID)
	require.Len(t, hooks.observations, 1)
	assert.Equal(t, res.Observation.ID, hooks.observations[0].ID)
}

func TestIngestSecondObservationReusesSession(t *testing.T) {
	st := newTestStore(t)
	hooks := &recordingHooks{}
	p := NewPipeline(Deps{Store: st, Hooks: hooks})

	first, err := p.Ingest(context.Background(), Candidate{
		ContentSessionID: "sess-1", Project: "kiro", Type: "file-read", Title: "one",
	})
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), Candidate{
		ContentSessionID: "sess-1", Project: "kiro", Type: "file-read", Title: "two",
	})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Len(t, hooks.sessionStarts, 1)
}

func TestIngestDuplicateSkipsFanOut(t *testing.T) {
	st := newTestStore(t)
	hub := sse.NewHub()
	defer hub.Close()
	hooks := &recordingHooks{}
	p := NewPipeline(Deps{Store: st, Hub: hub, Hooks: hooks})

	c := Candidate{Project: "kiro", Type: "file-read", Title: "same read"}
	first, err := p.Ingest(context.Background(), c)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	client := hub.Subscribe()
	defer client.Close()

	second, err := p.Ingest(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Observation)

	select {
	case ev := <-client.Events():
		t.Fatalf("unexpected event %q for duplicate", ev.Name)
	default:
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Len(t, hooks.observations, 1)
}
