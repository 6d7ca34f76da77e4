package trip

import (
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
)

// Result is what the lifecycle manager returns when a session stops.
type Result struct {
	SessionID         string          `json:"session_id"`
	Mode              TrackingMode    `json:"tracking_mode"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           time.Time       `json:"ended_at"`
	Duration          time.Duration   `json:"duration"`
	DistanceMeters    float64         `json:"distance_m"`
	Start             *geo.Coordinate `json:"start,omitempty"`
	End               *geo.Coordinate `json:"end,omitempty"`
	Route             []RoutePoint    `json:"route"`
	Purpose           string          `json:"purpose,omitempty"`
	Destination       *Destination    `json:"destination,omitempty"`
	StartLocationName string          `json:"start_location_name,omitempty"`
}

// Record is a finalized trip as stored for reporting.
type Record struct {
	// ID is a ULID assigned when the record is saved
	ID string `json:"id"`

	// Date is the local calendar date the trip counts toward
	Date time.Time `json:"date"`

	Mode TrackingMode `json:"tracking_mode"`

	// DistanceMeters is one-way distance, or the route length for continuous trips
	DistanceMeters float64 `json:"distance_m"`

	// RoundTrip doubles the effective distance; ignored for continuous trips
	RoundTrip bool `json:"round_trip"`

	Start     *geo.Coordinate `json:"start,omitempty"`
	End       *geo.Coordinate `json:"end,omitempty"`
	StartName string          `json:"start_name,omitempty"`
	EndName   string          `json:"end_name,omitempty"`

	// Route is the ordered point log for continuous trips
	Route []RoutePoint `json:"route,omitempty"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_sec,omitempty"`

	Purpose    string `json:"purpose,omitempty"`
	Notes      string `json:"notes,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`

	// Route-based estimate from the routing provider
	EstimatedDistanceMeters *float64       `json:"estimated_distance_m,omitempty"`
	EstimatedTravelSeconds  *float64       `json:"estimated_travel_sec,omitempty"`
	Polyline                orb.LineString `json:"polyline,omitempty"`

	// WasRouteCalculated is true only when the routing provider succeeded
	WasRouteCalculated bool              `json:"was_route_calculated"`
	DestinationSource  DestinationSource `json:"destination_source,omitempty"`

	// Recovered marks records finalized from an interrupted session
	Recovered bool `json:"recovered,omitempty"`

	// CreatedAt is the Unix timestamp when the record was saved
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp when the record was last updated
	UpdatedAt int64 `json:"updated_at"`
}

// EffectiveDistanceMeters is the distance claimed for the trip.
func (r *Record) EffectiveDistanceMeters() float64 {
	if r.Mode == ModeContinuous || !r.RoundTrip {
		return r.DistanceMeters
	}
	return r.DistanceMeters * 2
}

// EffectiveKm is EffectiveDistanceMeters in kilometres.
func (r *Record) EffectiveKm() float64 {
	return geo.MetersToKm(r.EffectiveDistanceMeters())
}

// Validate checks the fields every capture path must supply.
func (r *Record) Validate() error {
	if !r.Mode.Valid() {
		return errors.NewInvalidRequest("tracking_mode is required")
	}
	if r.Date.IsZero() {
		return errors.NewInvalidRequest("date is required")
	}
	if math.IsNaN(r.DistanceMeters) || math.IsInf(r.DistanceMeters, 0) || r.DistanceMeters < 0 {
		return errors.NewInvalidRequest("distance must be a non-negative number")
	}
	if r.Start != nil && !r.Start.Valid() {
		return errors.NewInvalidRequest("start coordinate out of range")
	}
	if r.End != nil && !r.End.Valid() {
		return errors.NewInvalidRequest("end coordinate out of range")
	}
	if !r.DestinationSource.Valid() {
		return errors.NewInvalidRequest("invalid destination_source")
	}
	return nil
}

// NormalizeText trims free-text fields.
func (r *Record) NormalizeText() {
	r.StartName = strings.TrimSpace(r.StartName)
	r.EndName = strings.TrimSpace(r.EndName)
	r.Purpose = strings.TrimSpace(r.Purpose)
	r.Notes = strings.TrimSpace(r.Notes)
	r.JobID = strings.TrimSpace(r.JobID)
	r.ClientName = strings.TrimSpace(r.ClientName)
}

// FromResult builds a continuous-tracking record from a stopped session.
func FromResult(res *Result) *Record {
	started := res.StartedAt
	ended := res.EndedAt
	dur := int64(res.Duration / time.Second)

	rec := &Record{
		Date:            started,
		Mode:            ModeContinuous,
		DistanceMeters:  res.DistanceMeters,
		Start:           res.Start,
		End:             res.End,
		StartName:       res.StartLocationName,
		Route:           res.Route,
		StartedAt:       &started,
		EndedAt:         &ended,
		DurationSeconds: &dur,
		Purpose:         res.Purpose,
	}
	if res.Mode.Valid() {
		rec.Mode = res.Mode
	}
	if d := res.Destination; d != nil {
		rec.EndName = d.Name
		rec.JobID = d.JobID
		rec.DestinationSource = d.Source
	}
	return rec
}
