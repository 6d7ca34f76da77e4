package tracker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/location"
	"github.com/hpungsan/mileage/internal/route"
	"github.com/hpungsan/mileage/internal/trip"
)

// Manager owns the single active tracking session.
// All state transitions and sample handling are serialized by mu.
type Manager struct {
	provider LocationProvider
	store    SnapshotStore
	opts     Options
	log      *log.Logger
	acc      *route.Accumulator

	mu    sync.Mutex
	state State
	sess  *session

	// busy is set while Start, Resume, Stop or Discard run outside mu.
	busy bool

	pendingSession string
	lastSnapshotAt *time.Time

	ticks *tickHub
}

type session struct {
	id          string
	mode        trip.TrackingMode
	startedAt   time.Time
	purpose     string
	destination *trip.Destination
	startName   string
	startCoord  *geo.Coordinate

	rejected      int
	sinceSnapshot int

	cancel     context.CancelFunc
	ingestDone chan struct{}
	writer     *snapshotWriter
}

// New creates an idle manager.
func New(provider LocationProvider, store SnapshotStore, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		provider: provider,
		store:    store,
		opts:     opts,
		log:      opts.Logger,
		acc:      route.New(opts.Accumulator),
		state:    StateIdle,
		ticks:    newTickHub(),
	}
}

// Start begins a continuous-tracking session.
func (m *Manager) Start(ctx context.Context, input StartInput) (*Status, error) {
	m.mu.Lock()
	if m.state == StateTracking || m.busy {
		id := ""
		if m.sess != nil {
			id = m.sess.id
		}
		m.mu.Unlock()
		return nil, errors.NewAlreadyTracking(id)
	}
	if m.pendingSession != "" {
		id := m.pendingSession
		m.mu.Unlock()
		return nil, errors.NewRecoveryPending(id)
	}
	m.busy = true
	m.mu.Unlock()

	sess := &session{
		id:          uuid.NewString(),
		mode:        trip.ModeContinuous,
		startedAt:   m.opts.Now(),
		purpose:     input.Purpose,
		destination: input.Destination,
		startName:   input.StartLocationName,
	}

	if err := m.begin(ctx, sess, nil, 0); err != nil {
		return nil, err
	}
	m.log.Printf("started session %s", sess.id)
	st := m.Status()
	return &st, nil
}

// Resume re-enters tracking from a recovered snapshot and its point log
// without resetting distance.
func (m *Manager) Resume(ctx context.Context, snap *trip.Snapshot, points []trip.RoutePoint) (*Status, error) {
	if snap.Mode != trip.ModeContinuous {
		return nil, errors.NewResumeNotAllowed(string(snap.Mode))
	}

	m.mu.Lock()
	if m.state == StateTracking || m.busy {
		id := ""
		if m.sess != nil {
			id = m.sess.id
		}
		m.mu.Unlock()
		return nil, errors.NewAlreadyTracking(id)
	}
	m.busy = true
	m.mu.Unlock()

	sess := &session{
		id:          snap.SessionID,
		mode:        snap.Mode,
		startedAt:   snap.StartedAt,
		purpose:     snap.Purpose,
		destination: snap.Destination(),
		startName:   snap.StartLocationName,
		startCoord:  snap.StartCoordinate,
	}

	if err := m.begin(ctx, sess, points, snap.DistanceMeters); err != nil {
		return nil, err
	}
	m.log.Printf("resumed session %s with %d points", sess.id, len(points))
	st := m.Status()
	return &st, nil
}

// begin authorizes, subscribes, and starts the ingest and snapshot
// goroutines. Called with busy set; clears it.
func (m *Manager) begin(ctx context.Context, sess *session, restored []trip.RoutePoint, distance float64) error {
	fail := func(err error) error {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
		return err
	}

	if err := m.provider.RequestAuthorization(ctx); err != nil {
		return fail(m.locationError(ctx, err))
	}

	// Ingestion outlives the caller's request.
	bg, cancel := context.WithCancel(context.Background())
	samples, err := m.provider.Subscribe(bg)
	if err != nil {
		cancel()
		return fail(m.locationError(ctx, err))
	}

	m.mu.Lock()
	if restored != nil || distance > 0 {
		m.acc.Restore(restored, distance)
	} else {
		m.acc.Reset()
	}
	sess.cancel = cancel
	sess.ingestDone = make(chan struct{})
	sess.writer = newSnapshotWriter(m, sess, len(restored))
	m.sess = sess
	m.state = StateTracking
	m.pendingSession = ""
	m.lastSnapshotAt = nil
	m.busy = false
	m.mu.Unlock()

	go sess.writer.run()
	go m.ingest(bg, sess, samples)
	sess.writer.trigger()
	return nil
}

// ingest forwards provider samples to the accumulator until ctx is done or
// the provider closes the stream. A received sample is handled fully before
// the loop checks ctx again.
func (m *Manager) ingest(ctx context.Context, sess *session, samples <-chan trip.GeoSample) {
	defer close(sess.ingestDone)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				m.log.Printf("location stream closed for session %s", sess.id)
				return
			}
			m.handleSample(sess, s)
		}
	}
}

func (m *Manager) handleSample(sess *session, s trip.GeoSample) {
	m.mu.Lock()
	if m.sess != sess || m.state != StateTracking {
		m.mu.Unlock()
		return
	}

	res := m.acc.Accept(s)
	if !res.Accepted {
		sess.rejected++
		m.mu.Unlock()
		return
	}

	sess.sinceSnapshot++
	flush := m.opts.SnapshotEvery > 0 && sess.sinceSnapshot >= m.opts.SnapshotEvery
	if flush {
		sess.sinceSnapshot = 0
	}
	tick := Tick{
		SessionID:      sess.id,
		Points:         m.acc.Len(),
		DistanceMeters: m.acc.Distance(),
		ElapsedSeconds: s.Timestamp.Sub(sess.startedAt).Seconds(),
		Point:          s.RoutePoint(),
	}
	m.mu.Unlock()

	if flush {
		sess.writer.trigger()
	}
	m.ticks.broadcast(tick)
}

// Stop ends the session, clears its snapshot, and returns the result.
func (m *Manager) Stop(ctx context.Context) (*trip.Result, error) {
	sess, err := m.beginEnd()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	now := m.opts.Now()
	points := m.acc.Route()
	res := &trip.Result{
		SessionID:         sess.id,
		Mode:              sess.mode,
		StartedAt:         sess.startedAt,
		EndedAt:           now,
		Duration:          now.Sub(sess.startedAt),
		DistanceMeters:    m.acc.Distance(),
		Route:             points,
		Purpose:           sess.purpose,
		Destination:       sess.destination,
		StartLocationName: sess.startName,
		Start:             sess.startCoord,
	}
	if len(points) > 0 {
		first := points[0].Coordinate()
		last := points[len(points)-1].Coordinate()
		res.Start = &first
		res.End = &last
	}
	if res.Duration < 0 {
		res.Duration = 0
	}
	m.finish(StateFinalized)
	m.mu.Unlock()

	m.clearSnapshot(ctx, sess.id)
	m.log.Printf("stopped session %s: %d points, %.0f m", sess.id, len(points), res.DistanceMeters)
	return res, nil
}

// Discard ends the session without producing a result.
func (m *Manager) Discard(ctx context.Context) error {
	sess, err := m.beginEnd()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.acc.Reset()
	m.finish(StateDiscarded)
	m.mu.Unlock()

	m.clearSnapshot(ctx, sess.id)
	m.log.Printf("discarded session %s", sess.id)
	return nil
}

// beginEnd marks the manager busy and drains ingestion and the snapshot
// writer with mu released.
func (m *Manager) beginEnd() (*session, error) {
	m.mu.Lock()
	if m.state != StateTracking || m.busy {
		m.mu.Unlock()
		return nil, errors.NewNotTracking()
	}
	m.busy = true
	sess := m.sess
	m.mu.Unlock()

	sess.cancel()
	<-sess.ingestDone
	sess.writer.close()
	return sess, nil
}

// finish moves to a terminal state. Caller holds mu.
func (m *Manager) finish(state State) {
	m.state = state
	m.sess = nil
	m.busy = false
	m.lastSnapshotAt = nil
}

// clearSnapshot removes the persisted snapshot. Failure is logged; the
// session has already ended in memory.
func (m *Manager) clearSnapshot(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.WriteTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.log.Printf("failed to clear snapshot for session %s: %v", sessionID, err)
	}
}

// Status returns the current state and session metrics.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:           m.state,
		RecoveryPending: m.pendingSession != "",
		LastSnapshotAt:  m.lastSnapshotAt,
	}
	if m.sess == nil {
		return st
	}
	started := m.sess.startedAt
	st.SessionID = m.sess.id
	st.Mode = m.sess.mode
	st.StartedAt = &started
	st.ElapsedSeconds = m.opts.Now().Sub(started).Seconds()
	st.Points = m.acc.Len()
	st.DistanceMeters = m.acc.Distance()
	st.Rejected = m.sess.rejected
	st.Purpose = m.sess.purpose
	st.Destination = m.sess.destination
	return st
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MarkRecoveryPending blocks Start until the interrupted session is resolved.
func (m *Manager) MarkRecoveryPending(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingSession = sessionID
}

// ClearRecoveryPending unblocks Start.
func (m *Manager) ClearRecoveryPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingSession = ""
}

// RecoveryPending reports whether Start is blocked on recovery.
func (m *Manager) RecoveryPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingSession != ""
}

// Subscribe registers for ticks. Call the returned function to unsubscribe.
// Slow subscribers miss ticks rather than block ingestion.
func (m *Manager) Subscribe() (<-chan Tick, func()) {
	return m.ticks.subscribe()
}

// CaptureSingleLocation requests one fresh fix, independent of any tracking
// session. It never touches the active session.
func (m *Manager) CaptureSingleLocation(ctx context.Context) (geo.Coordinate, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.LocationTimeout)
	defer cancel()

	if err := m.provider.RequestAuthorization(cctx); err != nil {
		return geo.Coordinate{}, m.locationError(ctx, err)
	}
	s, err := m.provider.CurrentSample(cctx)
	if err != nil {
		return geo.Coordinate{}, m.locationError(ctx, err)
	}
	c := s.Coordinate()
	if !c.Valid() {
		return geo.Coordinate{}, errors.NewLocationUnavailable(fmt.Errorf("invalid fix %v", c))
	}
	return c, nil
}

// locationError maps provider failures onto lifecycle errors. parent is the
// caller's context, used to tell cancellation apart from a timeout.
func (m *Manager) locationError(parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return errors.NewCancelled("location capture")
	case stderrors.Is(err, location.ErrDenied), errors.Is(err, errors.ErrLocationDenied):
		return errors.NewLocationDenied()
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewLocationUnavailable(fmt.Errorf("no fix within %s", m.opts.LocationTimeout))
	default:
		return errors.NewLocationUnavailable(err)
	}
}
