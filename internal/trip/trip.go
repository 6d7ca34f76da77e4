// Package trip defines the trip session, snapshot, result and record types.
package trip

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
)

// TrackingMode records how a trip's distance was produced.
type TrackingMode string

const (
	ModeManual       TrackingMode = "manual"
	ModePointToPoint TrackingMode = "point_to_point"
	ModeContinuous   TrackingMode = "continuous"
	ModeRouteBased   TrackingMode = "route_based"
)

// Modes lists every tracking mode in display order.
var Modes = []TrackingMode{ModeManual, ModePointToPoint, ModeContinuous, ModeRouteBased}

// Valid reports whether m is a known tracking mode.
func (m TrackingMode) Valid() bool {
	switch m {
	case ModeManual, ModePointToPoint, ModeContinuous, ModeRouteBased:
		return true
	}
	return false
}

// ParseTrackingMode accepts a mode tag, tolerating case, spaces and hyphens.
func ParseTrackingMode(s string) (TrackingMode, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	m := TrackingMode(norm)
	if !m.Valid() {
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown tracking mode %q", s))
	}
	return m, nil
}

// DestinationSource identifies where a route-based destination came from.
type DestinationSource string

const (
	SourceCoordinate DestinationSource = "coordinate"
	SourceAddress    DestinationSource = "address"
	SourceJob        DestinationSource = "job"
)

// Valid reports whether s is a known destination source. Empty is allowed.
func (s DestinationSource) Valid() bool {
	switch s {
	case "", SourceCoordinate, SourceAddress, SourceJob:
		return true
	}
	return false
}

// Destination is where a trip is headed.
type Destination struct {
	Name       string            `json:"name,omitempty"`
	Coordinate *geo.Coordinate   `json:"coordinate,omitempty"`
	Source     DestinationSource `json:"source,omitempty"`
	JobID      string            `json:"job_id,omitempty"`
	Address    string            `json:"address,omitempty"`
}

// GeoSample is one observation from a location provider.
// Optional fields are nil when the provider did not report them.
type GeoSample struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Course    *float64  `json:"course,omitempty"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Coordinate returns the sample position.
func (s GeoSample) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: s.Lat, Lon: s.Lon}
}

// RoutePoint converts the sample to a retained route point.
func (s GeoSample) RoutePoint() RoutePoint {
	return RoutePoint{
		Lat:       s.Lat,
		Lon:       s.Lon,
		Timestamp: s.Timestamp,
		Speed:     s.Speed,
		Course:    s.Course,
		Altitude:  s.Altitude,
	}
}

// RoutePoint is a sample retained as part of a trip's route.
type RoutePoint struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Course    *float64  `json:"course,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
}

// Coordinate returns the point position.
func (p RoutePoint) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: p.Lat, Lon: p.Lon}
}

// Coordinates projects a route onto its positions.
func Coordinates(route []RoutePoint) []geo.Coordinate {
	out := make([]geo.Coordinate, len(route))
	for i, p := range route {
		out[i] = p.Coordinate()
	}
	return out
}

// RouteLengthMeters is the summed segment distance of a route.
func RouteLengthMeters(route []RoutePoint) float64 {
	return geo.PathLengthMeters(Coordinates(route))
}
