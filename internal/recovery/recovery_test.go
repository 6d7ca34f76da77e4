package recovery

import (
	"context"
	"database/sql"
	stderrors "errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/location"
	"github.com/hpungsan/mileage/internal/route"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/trip"
)

var (
	t0  = time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC)
	now = t0.Add(3 * time.Hour)
)

type memSink struct {
	fail  bool
	saved []*trip.Record
}

func (s *memSink) Save(ctx context.Context, rec *trip.Record) (*trip.Record, error) {
	if s.fail {
		return nil, stderrors.New("object store offline")
	}
	cp := *rec
	cp.ID = "01TRIP"
	s.saved = append(s.saved, &cp)
	return &cp, nil
}

type fixture struct {
	db      *sql.DB
	store   *db.SnapshotStore
	manager *tracker.Manager
	feed    *location.Feed
	sink    *memSink
	rec     *Recoverer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	quiet := log.New(io.Discard, "", 0)
	store := db.NewSnapshotStore(database)
	feed := location.NewFeed()
	m := tracker.New(feed, store, tracker.Options{
		Accumulator:      route.Config{MaxAccuracyMeters: 50, MaxSpeedMPS: 70},
		SnapshotInterval: time.Hour,
		Logger:           quiet,
	})
	t.Cleanup(func() {
		if m.State() == tracker.StateTracking {
			_ = m.Discard(context.Background())
		}
	})
	sink := &memSink{}
	r := New(store, m, sink, Options{Now: func() time.Time { return now }, Logger: quiet})
	return &fixture{db: database, store: store, manager: m, feed: feed, sink: sink, rec: r}
}

func routePoints(n int) []trip.RoutePoint {
	pts := make([]trip.RoutePoint, n)
	for i := range pts {
		pts[i] = trip.RoutePoint{
			Lat:       53.5 + float64(i)*0.001,
			Lon:       -113.5,
			Timestamp: t0.Add(time.Duration(i) * 10 * time.Second),
		}
	}
	return pts
}

func (f *fixture) seed(t *testing.T, snap *trip.Snapshot, points []trip.RoutePoint) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.AppendPoints(ctx, snap.SessionID, 0, points); err != nil {
		t.Fatalf("AppendPoints failed: %v", err)
	}
	if err := f.store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

// inspect runs Inspect and fails the test on error.
func (f *fixture) inspect(t *testing.T) *Inspection {
	t.Helper()
	insp, err := f.rec.Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	return insp
}

// assertCleared checks that neither the snapshot nor its point log remain.
func (f *fixture) assertCleared(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()
	left, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if left != nil {
		t.Errorf("snapshot left behind: %+v", left)
	}
	logged, err := f.store.Points(ctx, sessionID)
	if err != nil {
		t.Fatalf("Points failed: %v", err)
	}
	if len(logged) != 0 {
		t.Errorf("point log has %d points, want 0", len(logged))
	}
}

func continuousSnapshot(points []trip.RoutePoint) *trip.Snapshot {
	return &trip.Snapshot{
		SessionID:         "sess-1",
		StartedAt:         t0,
		Mode:              trip.ModeContinuous,
		PointCount:        len(points),
		DistanceMeters:    trip.RouteLengthMeters(points),
		Purpose:           "rig inspection",
		DestinationName:   "Pad 12",
		DestinationSource: trip.SourceJob,
		DestinationJobID:  "01JOB",
		StartLocationName: "Shop",
		LastSavedAt:       t0.Add(time.Minute),
	}
}

func TestInspect_NoSnapshot(t *testing.T) {
	f := setup(t)

	if insp := f.inspect(t); insp != nil {
		t.Errorf("Inspect = %+v, want nil", insp)
	}
	if f.manager.RecoveryPending() {
		t.Error("RecoveryPending = true, want false")
	}
}

func TestInspect_BlocksStart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	points := routePoints(3)
	f.seed(t, continuousSnapshot(points), points)

	insp := f.inspect(t)
	if insp == nil {
		t.Fatal("Inspect returned nil, want pending trip")
	}
	if insp.Snapshot.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", insp.Snapshot.SessionID)
	}
	if insp.LoggedPoints != 3 {
		t.Errorf("LoggedPoints = %d, want 3", insp.LoggedPoints)
	}
	if !insp.CanResume || insp.Stale {
		t.Errorf("CanResume = %v, Stale = %v; want true, false", insp.CanResume, insp.Stale)
	}
	if insp.LastSavedAgo != "2 hours ago" {
		t.Errorf("LastSavedAgo = %q, want %q", insp.LastSavedAgo, "2 hours ago")
	}
	if !f.manager.RecoveryPending() {
		t.Error("RecoveryPending = false, want true")
	}

	if _, err := f.manager.Start(ctx, tracker.StartInput{}); !errors.Is(err, errors.ErrRecoveryPending) {
		t.Errorf("Start error = %v, want RECOVERY_PENDING", err)
	}
}

func TestInspect_Stale(t *testing.T) {
	f := setup(t)
	snap := continuousSnapshot(nil)
	snap.LastSavedAt = now.Add(-25 * time.Hour)
	snap.StartedAt = snap.LastSavedAt.Add(-time.Hour)
	f.seed(t, snap, nil)

	insp := f.inspect(t)
	if insp == nil || !insp.Stale {
		t.Fatalf("Inspect = %+v, want stale trip", insp)
	}
	if insp.LoggedPoints != 0 {
		t.Errorf("LoggedPoints = %d, want 0", insp.LoggedPoints)
	}
}

func TestIsStale(t *testing.T) {
	snap := &trip.Snapshot{LastSavedAt: now.Add(-24 * time.Hour)}
	if IsStale(snap, now, 24*time.Hour) {
		t.Error("exactly 24h old should not be stale")
	}

	snap.LastSavedAt = now.Add(-24*time.Hour - time.Second)
	if !IsStale(snap, now, 24*time.Hour) {
		t.Error("24h1s old should be stale")
	}
}

func TestInspect_CorruptSnapshotTreatedAsAbsent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.db.Exec(`INSERT INTO trip_snapshot (slot, session_id, payload, saved_at) VALUES (1, 'x', '{"session_id":', 0)`)
	if err != nil {
		t.Fatalf("insert corrupt snapshot: %v", err)
	}

	if insp := f.inspect(t); insp != nil {
		t.Errorf("Inspect = %+v, want nil", insp)
	}
	if f.manager.RecoveryPending() {
		t.Error("RecoveryPending = true, want false")
	}

	snap, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap != nil {
		t.Errorf("corrupt snapshot not cleared: %+v", snap)
	}

	if _, err := f.manager.Start(ctx, tracker.StartInput{}); err != nil {
		t.Errorf("Start failed: %v", err)
	}
}

func TestResume_RebuildsSessionFromLog(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	points := routePoints(4)
	snap := continuousSnapshot(points)
	f.seed(t, snap, points)
	f.inspect(t)

	st, err := f.rec.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if st.State != tracker.StateTracking || st.SessionID != "sess-1" {
		t.Errorf("Resume = %s/%s, want tracking/sess-1", st.State, st.SessionID)
	}
	if st.Points != len(points) {
		t.Errorf("Points = %d, want %d", st.Points, len(points))
	}
	if diff := st.DistanceMeters - snap.DistanceMeters; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("DistanceMeters = %f, want %f", st.DistanceMeters, snap.DistanceMeters)
	}
	if f.manager.RecoveryPending() {
		t.Error("RecoveryPending = true after resume")
	}
	if st.Purpose != "rig inspection" {
		t.Errorf("Purpose = %q", st.Purpose)
	}
	if st.Destination == nil || st.Destination.JobID != "01JOB" {
		t.Errorf("Destination = %+v, want job 01JOB", st.Destination)
	}

	next := trip.GeoSample{Lat: 53.5 + 4*0.001, Lon: -113.5, Accuracy: 5, Timestamp: t0.Add(40 * time.Second)}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !f.feed.Push(pctx, next) {
		t.Fatal("Push not delivered to resumed session")
	}

	res, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(res.Route) != 5 {
		t.Errorf("len(Route) = %d, want 5", len(res.Route))
	}
	if !t0.Equal(res.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", res.StartedAt, t0)
	}

	left, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if left != nil {
		t.Errorf("snapshot left after stop: %+v", left)
	}
}

func TestResume_NonContinuousNotAllowed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	snap := continuousSnapshot(nil)
	snap.Mode = trip.ModePointToPoint
	f.seed(t, snap, nil)

	if insp := f.inspect(t); insp.CanResume {
		t.Error("CanResume = true for point-to-point snapshot")
	}

	if _, err := f.rec.Resume(ctx); !errors.Is(err, errors.ErrResumeNotAllowed) {
		t.Errorf("Resume error = %v, want RESUME_NOT_ALLOWED", err)
	}
	if !f.manager.RecoveryPending() {
		t.Error("RecoveryPending = false after refused resume")
	}

	left, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if left == nil {
		t.Error("snapshot cleared by refused resume")
	}
}

func TestFinalize_SavesRecordAndClears(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	points := routePoints(5)
	snap := continuousSnapshot(points)
	f.seed(t, snap, points)
	f.inspect(t)

	rec, err := f.rec.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if rec.ID != "01TRIP" || !rec.Recovered || rec.Mode != trip.ModeContinuous {
		t.Errorf("Finalize = id %q recovered %v mode %s", rec.ID, rec.Recovered, rec.Mode)
	}
	if len(rec.Route) != 5 {
		t.Errorf("len(Route) = %d, want 5", len(rec.Route))
	}
	if want := trip.RouteLengthMeters(points); rec.DistanceMeters != want {
		t.Errorf("DistanceMeters = %f, want %f", rec.DistanceMeters, want)
	}
	if rec.EndedAt == nil || !snap.LastSavedAt.Equal(*rec.EndedAt) {
		t.Errorf("EndedAt = %v, want %v", rec.EndedAt, snap.LastSavedAt)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 60 {
		t.Errorf("DurationSeconds = %v, want 60", rec.DurationSeconds)
	}
	if rec.EndName != "Pad 12" || rec.StartName != "Shop" {
		t.Errorf("names = %q -> %q, want Shop -> Pad 12", rec.StartName, rec.EndName)
	}

	f.assertCleared(t, "sess-1")
	if f.manager.RecoveryPending() {
		t.Error("RecoveryPending = true after finalize")
	}

	// Exactly one outcome.
	if _, err := f.rec.Finalize(ctx); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second Finalize error = %v, want NOT_FOUND", err)
	}
	if len(f.sink.saved) != 1 {
		t.Errorf("saved %d records, want 1", len(f.sink.saved))
	}
}

func TestFinalize_SinkFailureStillClears(t *testing.T) {
	f := setup(t)
	points := routePoints(2)
	f.seed(t, continuousSnapshot(points), points)
	f.sink.fail = true
	f.inspect(t)

	if _, err := f.rec.Finalize(context.Background()); err == nil {
		t.Fatal("Finalize should fail when the sink is offline")
	}

	f.assertCleared(t, "sess-1")
	if f.manager.RecoveryPending() {
		t.Error("RecoveryPending = true after failed finalize")
	}
}

func TestFinalize_NoPointsFallsBackToStraightLine(t *testing.T) {
	f := setup(t)
	start := geo.Coordinate{Lat: 53.5461, Lon: -113.4938}
	dest := geo.Coordinate{Lat: 53.6316, Lon: -113.3239}
	snap := continuousSnapshot(nil)
	snap.StartCoordinate = &start
	snap.DestinationCoordinate = &dest
	snap.DistanceMeters = 0
	f.seed(t, snap, nil)
	f.inspect(t)

	rec, err := f.rec.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if want := geo.DistanceMeters(start, dest); rec.DistanceMeters != want || want <= 0 {
		t.Errorf("DistanceMeters = %f, want %f", rec.DistanceMeters, want)
	}
	if rec.End == nil || *rec.End != dest {
		t.Errorf("End = %v, want %v", rec.End, dest)
	}
}

func TestFinalize_RequiresInspection(t *testing.T) {
	f := setup(t)
	points := routePoints(2)
	f.seed(t, continuousSnapshot(points), points)

	if _, err := f.rec.Finalize(context.Background()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Finalize error = %v, want NOT_FOUND", err)
	}
	if len(f.sink.saved) != 0 {
		t.Errorf("saved %d records before inspection", len(f.sink.saved))
	}
}

func TestDiscard_LeavesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	points := routePoints(3)
	f.seed(t, continuousSnapshot(points), points)
	f.inspect(t)

	if err := f.rec.Discard(ctx); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	f.assertCleared(t, "sess-1")
	if len(f.sink.saved) != 0 {
		t.Errorf("Discard saved %d records", len(f.sink.saved))
	}
	if f.manager.RecoveryPending() {
		t.Error("RecoveryPending = true after discard")
	}

	if _, err := f.manager.Start(ctx, tracker.StartInput{}); err != nil {
		t.Errorf("Start after discard failed: %v", err)
	}
}

func TestDiscard_NothingPending(t *testing.T) {
	f := setup(t)
	for i := 0; i < 2; i++ {
		if err := f.rec.Discard(context.Background()); err != nil {
			t.Fatalf("Discard #%d failed: %v", i+1, err)
		}
	}
}

func TestDiscard_LeavesLiveSessionAlone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	st, err := f.manager.Start(ctx, tracker.StartInput{Purpose: "site visit"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	base := time.Now()
	for i := 0; i < 3; i++ {
		s := trip.GeoSample{Lat: 53.5 + float64(i)*0.001, Lon: -113.5, Accuracy: 5, Timestamp: base.Add(time.Duration(i) * 10 * time.Second)}
		if !f.feed.Push(pctx, s) {
			t.Fatalf("Push #%d not delivered", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	var snap *trip.Snapshot
	for snap == nil && time.Now().Before(deadline) {
		snap, _ = f.store.Load(ctx)
		if snap == nil {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if snap == nil || snap.SessionID != st.SessionID {
		t.Fatalf("live snapshot = %+v, want session %s", snap, st.SessionID)
	}

	if err := f.rec.Discard(ctx); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	after, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if after == nil || after.SessionID != st.SessionID {
		t.Errorf("Discard removed the live snapshot: %+v", after)
	}
	if f.manager.State() != tracker.StateTracking {
		t.Errorf("State = %s, want tracking", f.manager.State())
	}
}

func TestBuildRecord(t *testing.T) {
	t.Run("route shorter than last-known distance", func(t *testing.T) {
		points := routePoints(3)
		snap := continuousSnapshot(points)
		snap.DistanceMeters = 10000
		if rec := BuildRecord(snap, points); rec.DistanceMeters != 10000 {
			t.Errorf("DistanceMeters = %f, want 10000", rec.DistanceMeters)
		}
	})

	t.Run("no coordinates uses last-known distance", func(t *testing.T) {
		snap := continuousSnapshot(nil)
		snap.DistanceMeters = 842
		rec := BuildRecord(snap, nil)
		if rec.DistanceMeters != 842 {
			t.Errorf("DistanceMeters = %f, want 842", rec.DistanceMeters)
		}
		if rec.Start != nil || rec.End != nil {
			t.Errorf("Start/End = %v/%v, want nil", rec.Start, rec.End)
		}
	})

	t.Run("save time before start clamps duration", func(t *testing.T) {
		snap := continuousSnapshot(nil)
		snap.LastSavedAt = t0.Add(-time.Minute)
		rec := BuildRecord(snap, nil)
		if rec.DurationSeconds == nil || *rec.DurationSeconds != 0 {
			t.Errorf("DurationSeconds = %v, want 0", rec.DurationSeconds)
		}
	})

	t.Run("single point becomes start", func(t *testing.T) {
		points := routePoints(1)
		rec := BuildRecord(continuousSnapshot(points), points)
		if rec.Start == nil || *rec.Start != points[0].Coordinate() {
			t.Errorf("Start = %v, want %v", rec.Start, points[0].Coordinate())
		}
	})
}
