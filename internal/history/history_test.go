package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skilledcamman/Automated-Microscopy/internal/sweep"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRun() (sweep.Config, *sweep.Result) {
	cfg := sweep.Config{TotalSteps: 80, StepChunk: 16}
	res := &sweep.Result{
		Records: []sweep.Record{
			{Requested: 16, Actual: 16, Score: 1},
			{Requested: 32, Actual: 32, Score: 5},
			{Requested: 48, Actual: 48, Score: 3},
		},
		BestIndex:     1,
		BestPosition:  32,
		FinalPosition: 32,
		Skipped:       2,
		Scores:        sweep.Summary{Mean: 3, Std: 2, Min: 1, Max: 5},
	}
	return cfg, res
}

func TestRecordRun_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	cfg, res := sampleRun()
	id, err := db.RecordRun(ctx, started, cfg, res, "sweep-001.mjpeg")
	require.NoError(t, err)
	require.Positive(t, id)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, id, run.ID)
	assert.True(t, run.StartedAt.Equal(started))
	assert.Equal(t, int64(80), run.TotalSteps)
	assert.Equal(t, int64(16), run.StepChunk)
	assert.Equal(t, 1, run.BestIndex)
	assert.Equal(t, int64(32), run.BestPosition)
	assert.Equal(t, int64(32), run.FinalPosition)
	assert.Equal(t, 3, run.Stops)
	assert.Equal(t, 2, run.Skipped)
	assert.Equal(t, res.Scores, run.Scores)
	assert.Equal(t, "sweep-001.mjpeg", run.VideoPath)

	recs, err := db.RunRecords(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Records, recs)
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cfg, res := sampleRun()

	first, err := db.RecordRun(ctx, time.Now(), cfg, res, "")
	require.NoError(t, err)
	second, err := db.RecordRun(ctx, time.Now(), cfg, res, "")
	require.NoError(t, err)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
}

func TestListRuns_Limit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cfg, res := sampleRun()

	for i := 0; i < 5; i++ {
		_, err := db.RecordRun(ctx, time.Now(), cfg, res, "")
		require.NoError(t, err)
	}

	runs, err := db.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunRecords_UnknownRun(t *testing.T) {
	db := openTestDB(t)
	recs, err := db.RunRecords(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()
	cfg, res := sampleRun()

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.RecordRun(ctx, time.Now(), cfg, res, "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
