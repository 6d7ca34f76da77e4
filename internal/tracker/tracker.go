// Package tracker runs the continuous-tracking lifecycle: one active session
// at a time, fed by a location provider, snapshotted on a cadence so an
// interrupted trip can be recovered.
package tracker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/hpungsan/mileage/internal/route"
	"github.com/hpungsan/mileage/internal/trip"
)

// State is the lifecycle state of the manager's current session.
type State string

const (
	StateIdle      State = "idle"
	StateTracking  State = "tracking"
	StateFinalized State = "finalized"
	StateDiscarded State = "discarded"
)

// LocationProvider supplies position samples.
type LocationProvider interface {
	RequestAuthorization(ctx context.Context) error
	CurrentSample(ctx context.Context) (trip.GeoSample, error)
	Subscribe(ctx context.Context) (<-chan trip.GeoSample, error)
}

// SnapshotStore persists the in-progress snapshot and route-point log.
type SnapshotStore interface {
	Save(ctx context.Context, snap *trip.Snapshot) error
	Load(ctx context.Context) (*trip.Snapshot, error)
	Clear(ctx context.Context) error
	AppendPoints(ctx context.Context, sessionID string, startSeq int, points []trip.RoutePoint) error
	Points(ctx context.Context, sessionID string) ([]trip.RoutePoint, error)
}

// Options tune a Manager. Zero values take defaults.
type Options struct {
	Accumulator route.Config

	// SnapshotInterval is the wall-clock snapshot cadence (default 30s).
	SnapshotInterval time.Duration

	// SnapshotEvery schedules an extra snapshot after this many accepted
	// samples (default 10, negative disables).
	SnapshotEvery int

	// LocationTimeout bounds CaptureSingleLocation (default 15s).
	LocationTimeout time.Duration

	// WriteTimeout bounds each snapshot write (default 10s).
	WriteTimeout time.Duration

	Now    func() time.Time
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = 30 * time.Second
	}
	if o.SnapshotEvery == 0 {
		o.SnapshotEvery = 10
	}
	if o.LocationTimeout <= 0 {
		o.LocationTimeout = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[tracker] ", log.LstdFlags)
	}
	return o
}

// StartInput describes a new tracking session.
type StartInput struct {
	Purpose           string
	Destination       *trip.Destination
	StartLocationName string
}

// Status is a point-in-time view of the manager.
type Status struct {
	State           State             `json:"state"`
	SessionID       string            `json:"session_id,omitempty"`
	Mode            trip.TrackingMode `json:"tracking_mode,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	ElapsedSeconds  float64           `json:"elapsed_sec"`
	Points          int               `json:"points"`
	DistanceMeters  float64           `json:"distance_m"`
	Rejected        int               `json:"rejected"`
	Purpose         string            `json:"purpose,omitempty"`
	Destination     *trip.Destination `json:"destination,omitempty"`
	LastSnapshotAt  *time.Time        `json:"last_snapshot_at,omitempty"`
	RecoveryPending bool              `json:"recovery_pending"`
}

// Tick is emitted for every accepted sample.
type Tick struct {
	SessionID      string          `json:"session_id"`
	Points         int             `json:"points"`
	DistanceMeters float64         `json:"distance_m"`
	ElapsedSeconds float64         `json:"elapsed_sec"`
	Point          trip.RoutePoint `json:"point"`
}
