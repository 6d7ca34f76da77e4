// Package recovery resolves a trip interrupted by a crash or restart.
//
// At startup Inspect loads any persisted snapshot and blocks new tracking
// until exactly one of Resume, Finalize or Discard runs.
package recovery

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/trip"
)

// DefaultStaleAfter is the age past which a snapshot is flagged as stale.
const DefaultStaleAfter = 24 * time.Hour

// Store is the part of the snapshot store recovery needs.
type Store interface {
	Load(ctx context.Context) (*trip.Snapshot, error)
	Points(ctx context.Context, sessionID string) ([]trip.RoutePoint, error)
	Clear(ctx context.Context) error
}

// Tracker is the lifecycle manager as seen by recovery.
type Tracker interface {
	Resume(ctx context.Context, snap *trip.Snapshot, points []trip.RoutePoint) (*tracker.Status, error)
	MarkRecoveryPending(sessionID string)
	ClearRecoveryPending()
	RecoveryPending() bool
}

// RecordSink receives records finalized from an interrupted session and
// returns the stored copy.
type RecordSink interface {
	Save(ctx context.Context, rec *trip.Record) (*trip.Record, error)
}

// Options tune a Recoverer. Zero values take defaults.
type Options struct {
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *log.Logger
}

// Inspection describes a pending interrupted trip.
type Inspection struct {
	Snapshot     *trip.Snapshot `json:"snapshot"`
	LoggedPoints int            `json:"logged_points"`
	Stale        bool           `json:"stale"`
	CanResume    bool           `json:"can_resume"`
	LastSavedAgo string         `json:"last_saved_ago"`
}

// Recoverer drives the startup recovery decision.
type Recoverer struct {
	store   Store
	tracker Tracker
	sink    RecordSink
	opts    Options
	log     *log.Logger

	// mu makes each resolution all-or-nothing with respect to the others.
	mu sync.Mutex
}

// New creates a Recoverer.
func New(store Store, t Tracker, sink RecordSink, opts Options) *Recoverer {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[recovery] ", log.LstdFlags)
	}
	return &Recoverer{store: store, tracker: t, sink: sink, opts: opts, log: opts.Logger}
}

// IsStale reports whether snap was last saved more than after ago.
func IsStale(snap *trip.Snapshot, now time.Time, after time.Duration) bool {
	return now.Sub(snap.LastSavedAt) > after
}

// Inspect loads the persisted snapshot. It returns nil when there is nothing
// to recover; a corrupt snapshot is cleared and treated as absent. When a
// snapshot exists the tracker is marked recovery-pending.
func (r *Recoverer) Inspect(ctx context.Context) (*Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, errors.ErrSnapshotCorrupt) {
			return nil, err
		}
		r.log.Printf("discarding unreadable snapshot: %v", err)
		if cerr := r.store.Clear(ctx); cerr != nil {
			r.log.Printf("failed to clear unreadable snapshot: %v", cerr)
		}
		r.tracker.ClearRecoveryPending()
		return nil, nil
	}
	if snap == nil {
		r.tracker.ClearRecoveryPending()
		return nil, nil
	}

	points, err := r.store.Points(ctx, snap.SessionID)
	if err != nil {
		return nil, err
	}

	now := r.opts.Now()
	r.tracker.MarkRecoveryPending(snap.SessionID)
	return &Inspection{
		Snapshot:     snap,
		LoggedPoints: len(points),
		Stale:        IsStale(snap, now, r.opts.StaleAfter),
		CanResume:    snap.Mode == trip.ModeContinuous,
		LastSavedAgo: humanize.RelTime(snap.LastSavedAt, now, "ago", "from now"),
	}, nil
}

// pending returns the snapshot awaiting a decision, or NOT_FOUND.
func (r *Recoverer) pending(ctx context.Context) (*trip.Snapshot, error) {
	if !r.tracker.RecoveryPending() {
		return nil, errors.NewNotFound("interrupted trip")
	}
	snap, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		r.tracker.ClearRecoveryPending()
		return nil, errors.NewNotFound("interrupted trip")
	}
	return snap, nil
}

// Resume re-enters tracking from the snapshot and its route-point log.
// Only continuous sessions can be resumed.
func (r *Recoverer) Resume(ctx context.Context) (*tracker.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.pending(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Mode != trip.ModeContinuous {
		return nil, errors.NewResumeNotAllowed(string(snap.Mode))
	}
	points, err := r.store.Points(ctx, snap.SessionID)
	if err != nil {
		return nil, err
	}

	st, err := r.tracker.Resume(ctx, snap, points)
	if err != nil {
		return nil, err
	}
	r.log.Printf("resumed session %s (%d points, %.0f m)", snap.SessionID, len(points), st.DistanceMeters)
	return st, nil
}

// Finalize saves the interrupted trip as a record. The snapshot is cleared
// last, whether or not the sink accepted the record.
func (r *Recoverer) Finalize(ctx context.Context) (rec *trip.Record, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.pending(ctx)
	if err != nil {
		return nil, err
	}
	defer r.clear(ctx, snap.SessionID)

	points, perr := r.store.Points(ctx, snap.SessionID)
	if perr != nil {
		r.log.Printf("route log for session %s unreadable, finalizing from snapshot: %v", snap.SessionID, perr)
		points = nil
	}

	rec, err = r.sink.Save(ctx, BuildRecord(snap, points))
	if err != nil {
		r.log.Printf("failed to save recovered session %s: %v", snap.SessionID, err)
		return nil, err
	}
	r.log.Printf("finalized session %s as trip %s", snap.SessionID, rec.ID)
	return rec, nil
}

// Discard drops the interrupted trip without creating a record. It is a
// no-op when nothing is pending.
func (r *Recoverer) Discard(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Without a pending mark the stored slot belongs to a live session or
	// does not exist.
	if !r.tracker.RecoveryPending() {
		return nil
	}

	snap, err := r.store.Load(ctx)
	if err != nil && !errors.Is(err, errors.ErrSnapshotCorrupt) {
		return err
	}
	if err := r.store.Clear(ctx); err != nil {
		return err
	}
	r.tracker.ClearRecoveryPending()
	if snap != nil {
		r.log.Printf("discarded session %s", snap.SessionID)
	}
	return nil
}

func (r *Recoverer) clear(ctx context.Context, sessionID string) {
	if err := r.store.Clear(context.WithoutCancel(ctx)); err != nil {
		r.log.Printf("failed to clear snapshot for session %s: %v", sessionID, err)
	}
	r.tracker.ClearRecoveryPending()
}

// BuildRecord turns a snapshot and its route-point log into a record.
//
// Distance is the logged route length when at least two points exist (never
// below the snapshot's last-known distance), otherwise the straight line
// from start to destination when both are known, otherwise the last-known
// distance. The end time is the last save.
func BuildRecord(snap *trip.Snapshot, points []trip.RoutePoint) *trip.Record {
	started := snap.StartedAt
	ended := snap.LastSavedAt
	if ended.Before(started) {
		ended = started
	}
	dur := int64(ended.Sub(started) / time.Second)

	rec := &trip.Record{
		Date:            started,
		Mode:            snap.Mode,
		Start:           snap.StartCoordinate,
		StartName:       snap.StartLocationName,
		Route:           points,
		StartedAt:       &started,
		EndedAt:         &ended,
		DurationSeconds: &dur,
		Purpose:         snap.Purpose,
		Recovered:       true,
	}
	if d := snap.Destination(); d != nil {
		rec.EndName = d.Name
		rec.JobID = d.JobID
		rec.DestinationSource = d.Source
		rec.End = d.Coordinate
	}

	if len(points) > 0 && rec.Start == nil {
		first := points[0].Coordinate()
		rec.Start = &first
	}
	if len(points) >= 2 || (len(points) == 1 && rec.End == nil) {
		last := points[len(points)-1].Coordinate()
		rec.End = &last
	}

	switch {
	case len(points) >= 2:
		rec.DistanceMeters = max(trip.RouteLengthMeters(points), snap.DistanceMeters)
	case rec.Start != nil && snap.DestinationCoordinate != nil:
		rec.DistanceMeters = geo.DistanceMeters(*rec.Start, *snap.DestinationCoordinate)
	default:
		rec.DistanceMeters = snap.DistanceMeters
	}
	return rec
}
