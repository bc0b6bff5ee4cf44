package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsRecordVersions(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.DB().Query("SELECT version, description FROM schema_versions ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		var desc string
		require.NoError(t, rows.Scan(&v, &desc))
		assert.NotEmpty(t, desc)
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestFTSTriggersKeepIndexInSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := insertTestObservation(t, s, NewObservation{
		Project: "kiro", Title: "quasar investigation", Text: "initial body",
	})

	page, err := s.SearchObservations(ctx, "quasar", "", "", 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Observations, 1)

	// UPDATE reindexes through the trigger.
	_, err = s.DB().Exec("UPDATE observations SET title = ? WHERE id = ?",
		"pulsar investigation", o.ID)
	require.NoError(t, err)

	page, err = s.SearchObservations(ctx, "quasar", "", "", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Observations)

	page, err = s.SearchObservations(ctx, "pulsar", "", "", 10, nil)
	require.NoError(t, err)
	assert.Len(t, page.Observations, 1)

	// DELETE removes the index entry through the trigger.
	_, err = s.DB().Exec("DELETE FROM observations WHERE id = ?", o.ID)
	require.NoError(t, err)

	page, err = s.SearchObservations(ctx, "pulsar", "", "", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Observations)
}

func TestMigrateIsIdempotentAcrossReopens(t *testing.T) {
	s := newTestStore(t)
	path := s.Path()
	require.NoError(t, s.Close())

	for i := 0; i < 2; i++ {
		again, err := Open(path)
		require.NoError(t, err)

		version, err := again.CurrentSchemaVersion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion, version)

		var steps int
		require.NoError(t, again.DB().QueryRow(
			"SELECT COUNT(*) FROM schema_versions").Scan(&steps))
		assert.Equal(t, len(migrations), steps, "reopen must not re-run steps")

		require.NoError(t, again.Close())
	}
}
