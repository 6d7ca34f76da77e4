package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/config"
	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/ops"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/trip"
)

type stubRouter struct {
	est *capture.Estimate
	err error
}

func (r stubRouter) Route(ctx context.Context, from, to geo.Coordinate) (*capture.Estimate, error) {
	return r.est, r.err
}

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RoutingURL = ""
	cfg.GeocoderURL = ""
	cfg.SnapshotIntervalSec = 3600
	if opts.LogOutput == nil {
		opts.LogOutput = io.Discard
	}

	a, err := Open(t.TempDir(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Tracker.Discard(context.Background())
		a.Close()
	})
	return a
}

func sampleAt(t0 time.Time, i int) trip.GeoSample {
	return trip.GeoSample{
		Lat:       53.5 + float64(i)*0.001,
		Lon:       -113.5,
		Accuracy:  5,
		Timestamp: t0.Add(time.Duration(i) * 10 * time.Second),
	}
}

func TestApp_TrackAndStopSavesRecord(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx := context.Background()

	insp, err := a.Startup(ctx)
	require.NoError(t, err)
	require.Nil(t, insp)

	_, err = a.StartTrip(ctx, tracker.StartInput{Purpose: "deliveries"})
	require.NoError(t, err)

	t0 := time.Now()
	for i := 0; i < 3; i++ {
		require.True(t, a.Feed.Push(ctx, sampleAt(t0, i)))
	}

	out, res, err := a.StopTrip(ctx)
	require.NoError(t, err)
	require.Len(t, res.Route, 3)
	require.Equal(t, trip.ModeContinuous, out.Mode)
	require.InDelta(t, res.DistanceMeters, out.DistanceMeters, 1e-9)

	rec, err := ops.Fetch(ctx, a.DB, ops.FetchInput{ID: out.ID})
	require.NoError(t, err)
	require.Len(t, rec.Route, 3)
	require.Equal(t, "deliveries", rec.Purpose)

	snap, err := a.Snapshots.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestApp_StopWhenIdle(t *testing.T) {
	a := newTestApp(t, Options{})
	_, _, err := a.StopTrip(context.Background())
	require.True(t, errors.Is(err, errors.ErrNotTracking))
}

func TestApp_RecoveryOnStartup(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Leave an interrupted session behind, as a crashed process would.
	database, err := db.Init(dir)
	require.NoError(t, err)
	store := db.NewSnapshotStore(database)
	t0 := time.Now().Add(-2 * time.Hour)
	points := []trip.RoutePoint{
		sampleAt(t0, 0).RoutePoint(),
		sampleAt(t0, 1).RoutePoint(),
		sampleAt(t0, 2).RoutePoint(),
	}
	require.NoError(t, store.Save(ctx, &trip.Snapshot{
		SessionID:      "crashed",
		StartedAt:      t0,
		Mode:           trip.ModeContinuous,
		PointCount:     3,
		DistanceMeters: trip.RouteLengthMeters(points),
		LastSavedAt:    t0.Add(20 * time.Second),
	}))
	require.NoError(t, store.AppendPoints(ctx, "crashed", 0, points))
	require.NoError(t, database.Close())

	cfg := config.DefaultConfig()
	cfg.RoutingURL, cfg.GeocoderURL = "", ""
	a, err := Open(dir, cfg, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	defer a.Close()

	insp, err := a.Startup(ctx)
	require.NoError(t, err)
	require.NotNil(t, insp)
	require.Equal(t, 3, insp.LoggedPoints)
	require.True(t, insp.CanResume)

	_, err = a.StartTrip(ctx, tracker.StartInput{})
	require.True(t, errors.Is(err, errors.ErrRecoveryPending))

	out, err := a.ResolveRecovery(ctx, ResolveFinalize)
	require.NoError(t, err)
	require.NotNil(t, out.Trip)
	require.True(t, out.Trip.Recovered)
	require.InDelta(t, trip.RouteLengthMeters(points), out.Trip.DistanceMeters, 1e-6)

	_, err = a.StartTrip(ctx, tracker.StartInput{})
	require.NoError(t, err)
	require.NoError(t, a.Tracker.Discard(ctx))
}

func TestApp_InspectIgnoresLiveSession(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx := context.Background()

	_, err := a.StartTrip(ctx, tracker.StartInput{})
	require.NoError(t, err)
	require.True(t, a.Feed.Push(ctx, sampleAt(time.Now(), 0)))

	insp, err := a.Inspect(ctx)
	require.NoError(t, err)
	require.Nil(t, insp)
	require.False(t, a.Tracker.RecoveryPending())

	_, err = a.ResolveRecovery(ctx, ResolveFinalize)
	require.Error(t, err)
	require.Equal(t, tracker.StateTracking, a.Tracker.Status().State)
}

func TestApp_ResolveRecoveryRefusedWhileTracking(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx := context.Background()

	st, err := a.StartTrip(ctx, tracker.StartInput{})
	require.NoError(t, err)

	t0 := time.Now()
	for i := 0; i < 10; i++ {
		require.True(t, a.Feed.Push(ctx, sampleAt(t0, i)))
	}
	require.Eventually(t, func() bool {
		snap, err := a.Snapshots.Load(ctx)
		return err == nil && snap != nil && snap.PointCount == 10
	}, 2*time.Second, 10*time.Millisecond)

	for _, action := range []Resolution{ResolveDiscard, ResolveFinalize, ResolveResume} {
		_, err := a.ResolveRecovery(ctx, action)
		require.True(t, errors.Is(err, errors.ErrAlreadyTracking), "%s: got %v", action, err)
	}

	snap, err := a.Snapshots.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, st.SessionID, snap.SessionID)
	logged, err := a.Snapshots.Points(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, logged, 10)

	for i := 10; i < 20; i++ {
		require.True(t, a.Feed.Push(ctx, sampleAt(t0, i)))
	}
	out, res, err := a.StopTrip(ctx)
	require.NoError(t, err)
	require.Len(t, res.Route, 20)
	require.InDelta(t, res.DistanceMeters, out.DistanceMeters, 1e-9)
}

func TestApp_ResolveRecoveryErrors(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx := context.Background()

	_, err := a.ResolveRecovery(ctx, "undo")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = a.ResolveRecovery(ctx, ResolveFinalize)
	require.True(t, errors.Is(err, errors.ErrNotFound))

	out, err := a.ResolveRecovery(ctx, ResolveDiscard)
	require.NoError(t, err)
	require.Equal(t, ResolveDiscard, out.Action)
}

func TestApp_PointToPoint(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx := context.Background()
	t0 := time.Now()

	a.Feed.Push(ctx, sampleAt(t0, 0))
	_, err := a.P2P.CaptureStart(ctx)
	require.NoError(t, err)

	a.Feed.Push(ctx, sampleAt(t0, 10))
	out, err := a.FinishP2P(ctx, capture.Details{EndName: "Yard", RoundTrip: true})
	require.NoError(t, err)
	require.Equal(t, trip.ModePointToPoint, out.Mode)
	require.InDelta(t, 1112, out.DistanceMeters, 5)
	require.InDelta(t, 2*out.DistanceMeters, out.EffectiveDistanceMeters, 1e-9)
}

func TestApp_RouteTrip(t *testing.T) {
	est := &capture.Estimate{
		DistanceMeters:    8300,
		TravelTimeSeconds: 720,
		Polyline:          orb.LineString{{-113.5, 53.5}, {-113.45, 53.52}},
	}
	a := newTestApp(t, Options{Router: stubRouter{est: est}})
	ctx := context.Background()

	out, err := a.RouteTrip(ctx, capture.RouteInput{
		Destination: capture.DestinationRef{Name: "Plant", Coordinate: &geo.Coordinate{Lat: 53.52, Lon: -113.45}},
		Start:       &geo.Coordinate{Lat: 53.5, Lon: -113.5},
		Purpose:     "audit",
	})
	require.NoError(t, err)
	require.Equal(t, trip.ModeRouteBased, out.Mode)
	require.True(t, out.WasRouteCalculated)
	require.Equal(t, 8300.0, out.DistanceMeters)
}

func TestApp_RouteTripWithoutRouterFallsBack(t *testing.T) {
	a := newTestApp(t, Options{})
	out, err := a.RouteTrip(context.Background(), capture.RouteInput{
		Destination: capture.DestinationRef{Coordinate: &geo.Coordinate{Lat: 53.51, Lon: -113.5}},
		Start:       &geo.Coordinate{Lat: 53.5, Lon: -113.5},
	})
	require.NoError(t, err)
	require.False(t, out.WasRouteCalculated)
	require.InDelta(t, 1112, out.DistanceMeters, 5)
}

func TestApp_ManualTrip(t *testing.T) {
	a := newTestApp(t, Options{})
	_, err := a.ManualTrip(context.Background(), capture.ManualInput{DistanceMeters: 0})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	out, err := a.ManualTrip(context.Background(), capture.ManualInput{DistanceMeters: 4200, Purpose: "bank"})
	require.NoError(t, err)
	require.Equal(t, trip.ModeManual, out.Mode)
}

func TestApp_ResolveDestination(t *testing.T) {
	a := newTestApp(t, Options{})
	ctx := context.Background()

	d, err := a.ResolveDestination(ctx, capture.DestinationRef{})
	require.NoError(t, err)
	require.Nil(t, d)

	d, err = a.ResolveDestination(ctx, capture.DestinationRef{Name: "Warehouse"})
	require.NoError(t, err)
	require.Equal(t, "Warehouse", d.Name)
	require.Nil(t, d.Coordinate)

	_, err = ops.AddJob(ctx, a.DB, ops.AddJobInput{Name: "Mill", Lat: ptr(53.6), Lon: ptr(-113.3)})
	require.NoError(t, err)
	d, err = a.ResolveDestination(ctx, capture.DestinationRef{JobID: "mill"})
	require.NoError(t, err)
	require.Equal(t, trip.SourceJob, d.Source)
	require.Equal(t, 53.6, d.Coordinate.Lat)

	// Address lookups need a geocoder, which this app has none of.
	_, err = a.ResolveDestination(ctx, capture.DestinationRef{Address: "1 Main St"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func ptr[T any](v T) *T { return &v }
