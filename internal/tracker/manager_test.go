package tracker

import (
	"context"
	stderrors "errors"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/location"
	"github.com/hpungsan/mileage/internal/route"
	"github.com/hpungsan/mileage/internal/trip"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

var testAccumulator = route.Config{MaxAccuracyMeters: 50, MaxSpeedMPS: 70}

// memStore is an in-memory SnapshotStore with failure injection.
type memStore struct {
	mu         sync.Mutex
	snap       *trip.Snapshot
	points     map[string]map[int]trip.RoutePoint
	saves      int
	failSave   bool
	failAppend bool
	failClear  bool
}

func newMemStore() *memStore {
	return &memStore{points: make(map[string]map[int]trip.RoutePoint)}
}

func (s *memStore) Save(ctx context.Context, snap *trip.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return stderrors.New("disk full")
	}
	cp := *snap
	s.snap = &cp
	s.saves++
	return nil
}

func (s *memStore) Load(ctx context.Context) (*trip.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	cp := *s.snap
	return &cp, nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClear {
		return stderrors.New("locked")
	}
	s.snap = nil
	s.points = make(map[string]map[int]trip.RoutePoint)
	return nil
}

func (s *memStore) AppendPoints(ctx context.Context, sessionID string, startSeq int, points []trip.RoutePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return stderrors.New("disk full")
	}
	if s.points[sessionID] == nil {
		s.points[sessionID] = make(map[int]trip.RoutePoint)
	}
	for i, p := range points {
		if _, ok := s.points[sessionID][startSeq+i]; !ok {
			s.points[sessionID][startSeq+i] = p
		}
	}
	return nil
}

func (s *memStore) Points(ctx context.Context, sessionID string) ([]trip.RoutePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.points[sessionID]
	out := make([]trip.RoutePoint, 0, len(m))
	for i := 0; i < len(m); i++ {
		p, ok := m[i]
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) set(fn func(s *memStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *memStore) snapshot() *trip.Snapshot {
	snap, _ := s.Load(context.Background())
	return snap
}

func newTestManager(t *testing.T, feed *location.Feed, store SnapshotStore, opts Options) *Manager {
	t.Helper()
	if opts.Accumulator == (route.Config{}) {
		opts.Accumulator = testAccumulator
	}
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = time.Hour
	}
	opts.Logger = log.New(io.Discard, "", 0)
	m := New(feed, store, opts)
	t.Cleanup(func() {
		if m.State() == StateTracking {
			_ = m.Discard(context.Background())
		}
	})
	return m
}

// sample moves north ~111 m every 10 seconds.
func sample(i int) trip.GeoSample {
	return trip.GeoSample{
		Lat:       53.5 + float64(i)*0.001,
		Lon:       -113.5,
		Accuracy:  5,
		Timestamp: t0.Add(time.Duration(i) * 10 * time.Second),
	}
}

func push(t *testing.T, feed *location.Feed, samples ...trip.GeoSample) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, s := range samples {
		if !feed.Push(ctx, s) {
			t.Fatalf("sample %d was not delivered", i)
		}
	}
}

// waitFor polls cond until it holds or two seconds pass. Push returns once
// ingest has taken a sample, not once the sample is applied.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func start(t *testing.T, m *Manager, in StartInput) *Status {
	t.Helper()
	st, err := m.Start(context.Background(), in)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return st
}

func TestStartStop_ResultMatchesAcceptedSamples(t *testing.T) {
	feed := location.NewFeed()
	m := newTestManager(t, feed, newMemStore(), Options{})

	st := start(t, m, StartInput{Purpose: "site visit", StartLocationName: "Office"})
	if st.State != StateTracking || st.SessionID == "" {
		t.Fatalf("Start = %+v, want tracking with a session id", st)
	}

	ref := route.New(testAccumulator)
	var samples []trip.GeoSample
	for i := 0; i < 6; i++ {
		samples = append(samples, sample(i))
		ref.Accept(sample(i))
	}
	// One out-of-order sample is rejected.
	samples = append(samples, sample(2))
	push(t, feed, samples...)

	res, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(res.Route) != 6 {
		t.Errorf("len(Route) = %d, want 6", len(res.Route))
	}
	if res.DistanceMeters != ref.Distance() {
		t.Errorf("DistanceMeters = %f, want %f", res.DistanceMeters, ref.Distance())
	}
	if res.Mode != trip.ModeContinuous {
		t.Errorf("Mode = %s, want continuous", res.Mode)
	}
	if res.Purpose != "site visit" || res.StartLocationName != "Office" {
		t.Errorf("Purpose/StartLocationName = %q/%q", res.Purpose, res.StartLocationName)
	}
	if res.Start == nil || *res.Start != sample(0).Coordinate() {
		t.Errorf("Start = %v, want %v", res.Start, sample(0).Coordinate())
	}
	if res.End == nil || *res.End != sample(5).Coordinate() {
		t.Errorf("End = %v, want %v", res.End, sample(5).Coordinate())
	}
	if m.State() != StateFinalized {
		t.Errorf("State = %s, want finalized", m.State())
	}
}

func TestStart_WhileTracking(t *testing.T) {
	m := newTestManager(t, location.NewFeed(), newMemStore(), Options{})
	start(t, m, StartInput{})

	if _, err := m.Start(context.Background(), StartInput{}); !errors.Is(err, errors.ErrAlreadyTracking) {
		t.Errorf("second Start error = %v, want ALREADY_TRACKING", err)
	}
}

func TestStopAndDiscard_WhenIdle(t *testing.T) {
	m := newTestManager(t, location.NewFeed(), newMemStore(), Options{})
	ctx := context.Background()

	if _, err := m.Stop(ctx); !errors.Is(err, errors.ErrNotTracking) {
		t.Errorf("Stop error = %v, want NOT_TRACKING", err)
	}
	if err := m.Discard(ctx); !errors.Is(err, errors.ErrNotTracking) {
		t.Errorf("Discard error = %v, want NOT_TRACKING", err)
	}
}

func TestStart_BlockedByRecovery(t *testing.T) {
	m := newTestManager(t, location.NewFeed(), newMemStore(), Options{})
	m.MarkRecoveryPending("old-session")

	if _, err := m.Start(context.Background(), StartInput{}); !errors.Is(err, errors.ErrRecoveryPending) {
		t.Errorf("Start error = %v, want RECOVERY_PENDING", err)
	}
	if !m.Status().RecoveryPending {
		t.Error("Status().RecoveryPending = false")
	}

	m.ClearRecoveryPending()
	start(t, m, StartInput{})
}

func TestStart_LocationDenied(t *testing.T) {
	feed := location.NewFeed()
	feed.Denied = true
	m := newTestManager(t, feed, newMemStore(), Options{})

	if _, err := m.Start(context.Background(), StartInput{}); !errors.Is(err, errors.ErrLocationDenied) {
		t.Errorf("Start error = %v, want LOCATION_DENIED", err)
	}
	if m.State() != StateIdle {
		t.Errorf("State = %s, want idle", m.State())
	}

	// A failed start leaves the manager usable.
	feed.Denied = false
	start(t, m, StartInput{})
}

func TestSnapshot_WrittenImmediatelyAfterStart(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, location.NewFeed(), store, Options{})

	dest := &trip.Destination{Name: "Well 7", Source: trip.SourceJob, JobID: "J7"}
	st := start(t, m, StartInput{Purpose: "inspection", Destination: dest})

	waitFor(t, "first snapshot", func() bool { return store.snapshot() != nil })
	snap := store.snapshot()
	if snap.SessionID != st.SessionID {
		t.Errorf("SessionID = %q, want %q", snap.SessionID, st.SessionID)
	}
	if snap.Mode != trip.ModeContinuous {
		t.Errorf("Mode = %s, want continuous", snap.Mode)
	}
	if snap.Purpose != "inspection" || snap.DestinationName != "Well 7" {
		t.Errorf("Purpose/DestinationName = %q/%q", snap.Purpose, snap.DestinationName)
	}
	if snap.PointCount != 0 {
		t.Errorf("PointCount = %d, want 0", snap.PointCount)
	}
}

func TestSnapshot_EveryNAcceptedSamples(t *testing.T) {
	feed := location.NewFeed()
	store := newMemStore()
	m := newTestManager(t, feed, store, Options{SnapshotEvery: 2})

	st := start(t, m, StartInput{})
	push(t, feed, sample(0), sample(1), sample(2), sample(3))

	waitFor(t, "snapshot of 4 points", func() bool {
		snap := store.snapshot()
		return snap != nil && snap.PointCount == 4
	})

	points, _ := store.Points(context.Background(), st.SessionID)
	if len(points) != 4 {
		t.Errorf("logged %d points, want 4", len(points))
	}
	if got, want := store.snapshot().DistanceMeters, m.Status().DistanceMeters; math.Abs(got-want) > 1e-9 {
		t.Errorf("snapshot distance = %f, want %f", got, want)
	}
	waitFor(t, "LastSnapshotAt", func() bool { return m.Status().LastSnapshotAt != nil })
}

func TestSnapshot_FailureDoesNotHaltTracking(t *testing.T) {
	feed := location.NewFeed()
	store := newMemStore()
	store.set(func(s *memStore) { s.failSave = true; s.failAppend = true })
	m := newTestManager(t, feed, store, Options{SnapshotInterval: 10 * time.Millisecond, SnapshotEvery: 1})

	st := start(t, m, StartInput{})
	push(t, feed, sample(0), sample(1), sample(2))
	waitFor(t, "3 accepted points", func() bool { return m.Status().Points == 3 })
	if snap := store.snapshot(); snap != nil {
		t.Fatalf("snapshot written while storage fails: %+v", snap)
	}

	// Storage recovers; the next cadence tick catches up.
	store.set(func(s *memStore) { s.failSave = false; s.failAppend = false })
	waitFor(t, "snapshot of 3 points", func() bool {
		snap := store.snapshot()
		return snap != nil && snap.PointCount == 3
	})

	points, _ := store.Points(context.Background(), st.SessionID)
	if len(points) != 3 {
		t.Errorf("logged %d points, want 3", len(points))
	}
}

func TestStop_ClearsSnapshot(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, location.NewFeed(), store, Options{})

	start(t, m, StartInput{})
	waitFor(t, "first snapshot", func() bool { return store.snapshot() != nil })

	if _, err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if snap := store.snapshot(); snap != nil {
		t.Errorf("snapshot left after stop: %+v", snap)
	}
}

func TestStop_ClearFailureStillReturnsResult(t *testing.T) {
	feed := location.NewFeed()
	store := newMemStore()
	m := newTestManager(t, feed, store, Options{})

	start(t, m, StartInput{})
	push(t, feed, sample(0), sample(1))

	store.set(func(s *memStore) { s.failClear = true })
	res, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(res.Route) != 2 {
		t.Errorf("len(Route) = %d, want 2", len(res.Route))
	}
}

func TestDiscard_ThenStartFresh(t *testing.T) {
	feed := location.NewFeed()
	store := newMemStore()
	m := newTestManager(t, feed, store, Options{})

	first := start(t, m, StartInput{})
	push(t, feed, sample(0), sample(1))

	if err := m.Discard(context.Background()); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if m.State() != StateDiscarded {
		t.Errorf("State = %s, want discarded", m.State())
	}
	if snap := store.snapshot(); snap != nil {
		t.Errorf("snapshot left after discard: %+v", snap)
	}

	second := start(t, m, StartInput{})
	if second.SessionID == first.SessionID {
		t.Error("new session reused the discarded session id")
	}
	if second.Points != 0 || second.DistanceMeters != 0 {
		t.Errorf("fresh session = %d points / %f m, want empty", second.Points, second.DistanceMeters)
	}
}

func TestResume_RestoresRouteAndDistance(t *testing.T) {
	feed := location.NewFeed()
	m := newTestManager(t, feed, newMemStore(), Options{})
	ctx := context.Background()
	m.MarkRecoveryPending("s-old")

	var points []trip.RoutePoint
	for i := 0; i < 3; i++ {
		points = append(points, sample(i).RoutePoint())
	}
	snap := &trip.Snapshot{
		SessionID:      "s-old",
		StartedAt:      t0,
		Mode:           trip.ModeContinuous,
		PointCount:     3,
		DistanceMeters: trip.RouteLengthMeters(points),
		Purpose:        "resumed",
		LastSavedAt:    t0.Add(time.Minute),
	}

	st, err := m.Resume(ctx, snap, points)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if st.SessionID != "s-old" || st.Points != 3 {
		t.Errorf("Resume = %s with %d points, want s-old with 3", st.SessionID, st.Points)
	}
	if st.DistanceMeters != snap.DistanceMeters {
		t.Errorf("DistanceMeters = %f, want %f", st.DistanceMeters, snap.DistanceMeters)
	}
	if st.RecoveryPending {
		t.Error("RecoveryPending = true after resume")
	}

	push(t, feed, sample(3))
	res, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(res.Route) != 4 {
		t.Errorf("len(Route) = %d, want 4", len(res.Route))
	}
	if res.DistanceMeters <= snap.DistanceMeters {
		t.Errorf("DistanceMeters = %f, want more than %f", res.DistanceMeters, snap.DistanceMeters)
	}
	if !res.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", res.StartedAt, t0)
	}
}

func TestResume_NonContinuousRejected(t *testing.T) {
	m := newTestManager(t, location.NewFeed(), newMemStore(), Options{})
	snap := &trip.Snapshot{SessionID: "s", StartedAt: t0, Mode: trip.ModePointToPoint, LastSavedAt: t0}

	if _, err := m.Resume(context.Background(), snap, nil); !errors.Is(err, errors.ErrResumeNotAllowed) {
		t.Errorf("Resume error = %v, want RESUME_NOT_ALLOWED", err)
	}
	if m.State() != StateIdle {
		t.Errorf("State = %s, want idle", m.State())
	}
}

func TestCaptureSingleLocation(t *testing.T) {
	feed := location.NewFeed()
	m := newTestManager(t, feed, newMemStore(), Options{})

	feed.Push(context.Background(), trip.GeoSample{Lat: 51.04, Lon: -114.07, Timestamp: time.Now()})
	c, err := m.CaptureSingleLocation(context.Background())
	if err != nil {
		t.Fatalf("CaptureSingleLocation failed: %v", err)
	}
	if want := (geo.Coordinate{Lat: 51.04, Lon: -114.07}); c != want {
		t.Errorf("CaptureSingleLocation = %v, want %v", c, want)
	}
}

func TestCaptureSingleLocation_Failures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		m := newTestManager(t, location.NewFeed(), newMemStore(), Options{LocationTimeout: 20 * time.Millisecond})
		if _, err := m.CaptureSingleLocation(context.Background()); !errors.Is(err, errors.ErrLocationUnavailable) {
			t.Errorf("error = %v, want LOCATION_UNAVAILABLE", err)
		}
	})

	t.Run("denied", func(t *testing.T) {
		feed := location.NewFeed()
		feed.Denied = true
		m := newTestManager(t, feed, newMemStore(), Options{})
		if _, err := m.CaptureSingleLocation(context.Background()); !errors.Is(err, errors.ErrLocationDenied) {
			t.Errorf("error = %v, want LOCATION_DENIED", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		m := newTestManager(t, location.NewFeed(), newMemStore(), Options{})
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		if _, err := m.CaptureSingleLocation(ctx); !errors.Is(err, errors.ErrCancelled) {
			t.Errorf("error = %v, want CANCELLED", err)
		}
	})
}

func TestCaptureSingleLocation_CancelLeavesSessionIntact(t *testing.T) {
	trackFeed := location.NewFeed()
	m := newTestManager(t, trackFeed, newMemStore(), Options{})
	ctx := context.Background()

	start(t, m, StartInput{})
	push(t, trackFeed, sample(0), sample(1))
	waitFor(t, "2 accepted points", func() bool { return m.Status().Points == 2 })

	// The feed's last fix is stale, so capture waits until cancelled.
	trackFeed.Now = func() time.Time { return time.Now().Add(time.Hour) }
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.CaptureSingleLocation(cctx); !errors.Is(err, errors.ErrCancelled) {
		t.Errorf("CaptureSingleLocation error = %v, want CANCELLED", err)
	}

	st := m.Status()
	if st.State != StateTracking || st.Points != 2 {
		t.Errorf("Status = %s with %d points, want tracking with 2", st.State, st.Points)
	}

	res, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(res.Route) != 2 {
		t.Errorf("len(Route) = %d, want 2", len(res.Route))
	}
}

func TestTicks(t *testing.T) {
	feed := location.NewFeed()
	m := newTestManager(t, feed, newMemStore(), Options{})

	ticks, unsubscribe := m.Subscribe()
	defer unsubscribe()

	start(t, m, StartInput{})
	push(t, feed, sample(0), sample(1))

	var got []Tick
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case tk := <-ticks:
			got = append(got, tk)
		case <-timeout:
			t.Fatalf("received %d ticks, want 2", len(got))
		}
	}
	if got[0].Points != 1 || got[1].Points != 2 {
		t.Errorf("tick points = %d, %d; want 1, 2", got[0].Points, got[1].Points)
	}
	if got[1].DistanceMeters <= 0 {
		t.Errorf("second tick distance = %f, want > 0", got[1].DistanceMeters)
	}

	unsubscribe()
	unsubscribe()
}

func TestConcurrentStop_OnlyOneSucceeds(t *testing.T) {
	m := newTestManager(t, location.NewFeed(), newMemStore(), Options{})
	start(t, m, StartInput{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		notActive int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Stop(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errors.ErrNotTracking):
				notActive++
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || notActive != 7 {
		t.Errorf("succeeded = %d, not tracking = %d; want 1, 7", succeeded, notActive)
	}
}
