package ops

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/errors"
)

// TestFullWorkflow exercises the record lifecycle:
// job → manual save → list → summary → export → delete → fetch (not found)
func TestFullWorkflow(t *testing.T) {
	database := openTestDB(t)
	dir := t.TempDir()
	cfg := exportConfig(dir)
	ctx := context.Background()

	job, err := AddJob(ctx, database, AddJobInput{Name: "Riverside", Address: "100 River Rd"})
	require.NoError(t, err)

	rec, err := capture.Manual(capture.ManualInput{
		Date:           time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		DistanceMeters: 18_400,
		RoundTrip:      true,
		EndName:        "Riverside",
		Purpose:        "inspection",
		JobID:          job.ID,
	}, time.Now())
	require.NoError(t, err)

	saved, err := Save(ctx, database, rec)
	require.NoError(t, err)
	require.InDelta(t, 36_800, saved.EffectiveDistanceMeters, 1e-9)

	mustSave(t, database, continuousRecord(time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)))

	byJob, err := List(ctx, database, ListInput{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, byJob.Items, 1)
	require.Equal(t, saved.ID, byJob.Items[0].ID)

	sum, err := Summary(ctx, database, cfg, SummaryInput{Year: 2026})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Trips)
	require.Greater(t, sum.TotalKm, 36.8)

	exp, err := Export(ctx, database, cfg, ExportInput{Path: filepath.Join(dir, "2026.gpx"), Year: 2026})
	require.NoError(t, err)
	require.Equal(t, 1, exp.Count)

	_, err = Delete(ctx, database, DeleteInput{ID: saved.ID})
	require.NoError(t, err)

	_, err = Fetch(ctx, database, FetchInput{ID: saved.ID})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
