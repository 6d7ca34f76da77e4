// Package route turns a stream of location samples into a filtered route
// and a running distance.
package route

import (
	"math"
	"sync"

	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// Reason explains why a sample was rejected.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidCoordinate Reason = "invalid_coordinate"
	ReasonLowAccuracy       Reason = "low_accuracy"
	ReasonOutOfOrder        Reason = "out_of_order"
	ReasonImplausibleSpeed  Reason = "implausible_speed"
)

// Config holds the sample filters.
// A zero threshold disables that filter.
type Config struct {
	// MaxAccuracyMeters rejects samples with a larger horizontal accuracy radius.
	MaxAccuracyMeters float64

	// MaxSpeedMPS rejects samples whose implied speed from the last
	// accepted sample is higher (GPS jumps).
	MaxSpeedMPS float64
}

// AcceptResult reports the outcome of Accept.
type AcceptResult struct {
	Accepted    bool    `json:"accepted"`
	Reason      Reason  `json:"reason,omitempty"`
	DeltaMeters float64 `json:"delta_m"`
}

// Accumulator collects accepted samples. Safe for concurrent use.
type Accumulator struct {
	cfg Config

	mu       sync.Mutex
	route    []trip.RoutePoint
	distance float64
}

// New creates an empty accumulator.
func New(cfg Config) *Accumulator {
	return &Accumulator{cfg: cfg}
}

// Accept filters s and, if it passes, appends it to the route and adds the
// segment distance from the previous accepted point.
func (a *Accumulator) Accept(s trip.GeoSample) AcceptResult {
	if !s.Coordinate().Valid() || s.Timestamp.IsZero() {
		return AcceptResult{Reason: ReasonInvalidCoordinate}
	}
	// NaN fails every comparison, so it is rejected explicitly.
	if math.IsNaN(s.Accuracy) || math.IsInf(s.Accuracy, 0) || s.Accuracy < 0 ||
		(a.cfg.MaxAccuracyMeters > 0 && s.Accuracy > a.cfg.MaxAccuracyMeters) {
		return AcceptResult{Reason: ReasonLowAccuracy}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var delta float64
	if n := len(a.route); n > 0 {
		last := a.route[n-1]
		if !s.Timestamp.After(last.Timestamp) {
			return AcceptResult{Reason: ReasonOutOfOrder}
		}
		delta = geo.DistanceMeters(last.Coordinate(), s.Coordinate())
		if a.cfg.MaxSpeedMPS > 0 {
			elapsed := s.Timestamp.Sub(last.Timestamp).Seconds()
			if delta/elapsed > a.cfg.MaxSpeedMPS {
				return AcceptResult{Reason: ReasonImplausibleSpeed}
			}
		}
	}

	a.route = append(a.route, s.RoutePoint())
	a.distance += delta
	return AcceptResult{Accepted: true, DeltaMeters: delta}
}

// Route returns a copy of the accepted points in order.
func (a *Accumulator) Route() []trip.RoutePoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]trip.RoutePoint, len(a.route))
	copy(out, a.route)
	return out
}

// Since returns a copy of the points from index from onward.
func (a *Accumulator) Since(from int) []trip.RoutePoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(a.route) {
		return nil
	}
	out := make([]trip.RoutePoint, len(a.route)-from)
	copy(out, a.route[from:])
	return out
}

// Distance returns the running distance in meters.
func (a *Accumulator) Distance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.distance
}

// Len returns the number of accepted points.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.route)
}

// First returns the first accepted point, if any.
func (a *Accumulator) First() (trip.RoutePoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.route) == 0 {
		return trip.RoutePoint{}, false
	}
	return a.route[0], true
}

// Last returns the most recent accepted point, if any.
func (a *Accumulator) Last() (trip.RoutePoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.route) == 0 {
		return trip.RoutePoint{}, false
	}
	return a.route[len(a.route)-1], true
}

// Reset clears the route and distance.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.route = nil
	a.distance = 0
}

// Restore seeds the accumulator from a persisted route. The running distance
// is the larger of the recorded distance and the route's own length, so a
// resumed session never loses distance.
func (a *Accumulator) Restore(points []trip.RoutePoint, distance float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.route = make([]trip.RoutePoint, len(points))
	copy(a.route, points)
	a.distance = distance
	if l := trip.RouteLengthMeters(points); l > a.distance {
		a.distance = l
	}
	if a.distance < 0 {
		a.distance = 0
	}
}
