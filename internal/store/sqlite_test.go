package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func freezeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })
	return clock
}

func TestSQLite_StartAndFinishRun(t *testing.T) {
	clock := freezeClock(t)
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, domain.StageMerge)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.True(t, run.StartedAt.Equal(clock.Now()))
	assert.Nil(t, run.FinishedAt)

	clock.Advance(1500 * time.Millisecond)
	run.Status = domain.RunSuccess
	run.RowsIn, run.RowsOut, run.RowsFailed = 12, 12, 1
	run.Output = "public/schools-with-towers.csv"
	run, err = st.FinishRun(ctx, run)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1500*time.Millisecond, run.Duration())

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, got.Status)
	assert.Equal(t, 12, got.RowsIn)
	assert.Equal(t, 1, got.RowsFailed)
	assert.Equal(t, "public/schools-with-towers.csv", got.Output)
	assert.True(t, got.StartedAt.Equal(run.StartedAt))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(*run.FinishedAt))
}

func TestSQLite_FinishRunRecordsError(t *testing.T) {
	freezeClock(t)
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, domain.StagePopulation)
	require.NoError(t, err)
	run.Status = domain.RunFailed
	run.Error = "open raster: no such file"
	_, err = st.FinishRun(ctx, run)
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "open raster: no such file", got.Error)
}

func TestSQLite_FinishUnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.FinishRun(context.Background(), domain.Run{ID: "missing", Status: domain.RunSuccess})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_GetRunMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRuns_NewestFirst(t *testing.T) {
	clock := freezeClock(t)
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []string
	for _, stage := range domain.Stages {
		run, err := st.StartRun(ctx, stage)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		clock.Advance(250 * time.Millisecond)
	}

	runs, err := st.ListRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[3], runs[0].ID)
	assert.Equal(t, domain.StageRecommendation, runs[0].Stage)
	assert.Equal(t, ids[1], runs[2].ID)

	all, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLite_ListRuns_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestSQLite_InMemoryAndPing(t *testing.T) {
	st, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Ping(ctx))

	_, err = st.StartRun(ctx, domain.StageMerge)
	require.NoError(t, err)
	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}
