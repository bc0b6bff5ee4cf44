package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/apperr"
	"kiromemory/internal/store"
)

func newTestGenerator(t *testing.T) (*Generator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()

	rows := []store.NewObservation{
		{Project: "kiro", Type: "file-write", Title: "implement cursor pagination",
			FilesModified: "internal/store/cursor.go", Concepts: "pagination"},
		{Project: "kiro", Type: "file-read", Title: "read cursor tests",
			FilesRead: "internal/store/cursor.go", Concepts: "pagination"},
		{Project: "kiro", Type: "decision", Title: "use keyset pagination",
			Narrative: "offset pagination skips rows under churn"},
		{Project: "other", Type: "command", Title: "ran linter"},
	}
	for _, n := range rows {
		_, dup, err := st.InsertObservation(ctx, n)
		require.NoError(t, err)
		require.False(t, dup)
	}

	_, err := st.InsertSummary(ctx, store.NewSummary{
		SessionID: 1,
		Project:   "kiro",
		Request:   "add pagination",
		Completed: "cursor pagination landed",
		NextSteps: "wire cursor into the HTTP layer\nadd docs",
	})
	require.NoError(t, err)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeekly, p)

	p, err = ParsePeriod("monthly")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonthly, p)

	_, err = ParsePeriod("fortnightly")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGenerateAggregatesWindow(t *testing.T) {
	g, st := newTestGenerator(t)
	seed(t, st)

	r, err := g.Generate(context.Background(), "kiro", PeriodWeekly)
	require.NoError(t, err)

	assert.Equal(t, 3, r.TotalObservations)
	assert.Equal(t, 1, r.ByType["file-write"])
	assert.Equal(t, 1, r.ByType["decision"])
	assert.Equal(t, 1, r.KnowledgeCount)

	require.NotEmpty(t, r.TopFiles)
	assert.Equal(t, "internal/store/cursor.go", r.TopFiles[0].Name)
	assert.Equal(t, 2, r.TopFiles[0].Count)

	require.Len(t, r.Summaries, 1)
	assert.Equal(t, "add pagination", r.Summaries[0].Request)
	assert.Equal(t, []string{"wire cursor into the HTTP layer", "add docs"}, r.NextSteps)
}

func TestGenerateEmptyProjectSpansAll(t *testing.T) {
	g, st := newTestGenerator(t)
	seed(t, st)

	r, err := g.Generate(context.Background(), "", PeriodWeekly)
	require.NoError(t, err)
	assert.Equal(t, 4, r.TotalObservations)
}

func TestGenerateWindowExcludesOldRows(t *testing.T) {
	g, st := newTestGenerator(t)
	seed(t, st)

	// Move "now" far past the seeded rows so the weekly window is empty.
	g.now = func() time.Time { return time.Now().AddDate(0, 2, 0) }

	r, err := g.Generate(context.Background(), "kiro", PeriodWeekly)
	require.NoError(t, err)
	assert.Zero(t, r.TotalObservations)
	assert.Empty(t, r.Summaries)
}

func TestMarkdownRendersSections(t *testing.T) {
	g, st := newTestGenerator(t)
	seed(t, st)

	r, err := g.Generate(context.Background(), "kiro", PeriodWeekly)
	require.NoError(t, err)

	md := r.Markdown()
	assert.Contains(t, md, "# Memory Report for kiro")
	assert.Contains(t, md, "## Activity")
	assert.Contains(t, md, "**3** observations")
	assert.Contains(t, md, "## Most touched files")
	assert.Contains(t, md, "`internal/store/cursor.go` (2)")
	assert.Contains(t, md, "## Open next steps")
}
