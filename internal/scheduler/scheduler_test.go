package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kiromemory/internal/backup"
	"kiromemory/internal/config"
	"kiromemory/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by go.opencensus.io's package init when the genai SDK is
		// linked in; it is not stoppable from test code.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backupDir := filepath.Join(dir, "backups")
	bm := backup.NewManager(st, backupDir, 3)
	return New(st, bm, config.Default()), st, backupDir
}

func backupCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			n++
		}
	}
	return n
}

func TestSchedulerRunsJobsAfterStartupDelay(t *testing.T) {
	s, st, backupDir := newTestScheduler(t)
	ctx := context.Background()

	// A row 100 days old falls past the default 90 day observation window.
	old := time.Now().Add(-100 * 24 * time.Hour).UnixMilli()
	require.NoError(t, st.ImportBatch(ctx, []*store.Observation{{
		Project:        "kiro",
		Type:           "file-read",
		Title:          "stale row",
		CreatedAtEpoch: old,
	}}, nil, nil))

	s.retentionDelay = 10 * time.Millisecond
	s.retentionEvery = time.Hour
	s.backupDelay = 20 * time.Millisecond
	s.backupEvery = time.Hour

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return backupCount(t, backupDir) == 1
	}, 5*time.Second, 20*time.Millisecond, "backup never ran")

	require.Eventually(t, func() bool {
		counts, err := st.Stats(ctx)
		require.NoError(t, err)
		return counts["observations"] == 0
	}, 5*time.Second, 20*time.Millisecond, "retention never swept the stale row")
}

func TestSchedulerStopBeforeFirstRun(t *testing.T) {
	s, _, backupDir := newTestScheduler(t)

	s.retentionDelay = time.Hour
	s.backupDelay = time.Hour
	s.Start()
	s.Stop()

	assert.Equal(t, 0, backupCount(t, backupDir))
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.retentionDelay = time.Hour
	s.backupDelay = time.Hour

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestRunRetentionNowOverride(t *testing.T) {
	s, st, _ := newTestScheduler(t)
	ctx := context.Background()

	// Two days old: survives the default 90 day policy, expires under a one
	// day override.
	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, st.ImportBatch(ctx, []*store.Observation{{
		Project:        "kiro",
		Type:           "file-read",
		Title:          "recent row",
		CreatedAtEpoch: old,
	}}, nil, nil))

	counts, err := s.RunRetentionNow(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())

	counts, err = s.RunRetentionNow(ctx, &store.RetentionPolicy{ObservationDays: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Observations)
}

func TestRunBackupNow(t *testing.T) {
	s, _, backupDir := newTestScheduler(t)

	info, err := s.RunBackupNow(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(backupDir, info.Filename))
	assert.Equal(t, 1, backupCount(t, backupDir))
}
