package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(Config{Level: "DEBUG", Dir: dir}))
	defer CloseAll()

	Get(CategoryStore).Infow("observation stored", "id", 42)
	CloseAll()

	want := filepath.Join(dir, "kiro-memory-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "observation stored")
	assert.Contains(t, string(data), "store")
}

func TestSetupSilentProducesNothing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(Config{Level: "SILENT", Dir: dir}))
	defer CloseAll()

	Get(CategoryHTTP).Error("should vanish")
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	err := Setup(Config{Level: "LOUD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOUD")
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(Config{Level: "WARN", Dir: dir}))
	defer CloseAll()

	Get(CategoryIngest).Info("filtered out")
	Get(CategoryIngest).Warn("kept")
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered out")
	assert.Contains(t, string(data), "kept")
}

func TestGetCachesPerCategory(t *testing.T) {
	require.NoError(t, Setup(Config{Level: "INFO"}))
	defer CloseAll()

	a := Get(CategoryPlugin)
	b := Get(CategoryPlugin)
	assert.Same(t, a, b)
	assert.NotSame(t, a, Get(CategoryBackup))
}

func TestTimer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(Config{Level: "DEBUG", Dir: dir}))
	defer CloseAll()

	timer := StartTimer(CategorySearch, "hybrid")
	time.Sleep(5 * time.Millisecond)
	d := timer.Stop()
	assert.GreaterOrEqual(t, d, 5*time.Millisecond)

	slow := StartTimer(CategorySearch, "slow-op")
	time.Sleep(2 * time.Millisecond)
	slow.StopWarnOver(time.Nanosecond)
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "slow operation")
	assert.True(t, strings.Contains(string(data), "hybrid"))
}
