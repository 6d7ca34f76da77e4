// Package capture produces trip records without continuous tracking:
// manual entry, point-to-point and route-based estimates.
package capture

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// Locator supplies one fresh position fix.
type Locator interface {
	CaptureSingleLocation(ctx context.Context) (geo.Coordinate, error)
}

// Estimate is a routing provider's answer for one origin and destination.
type Estimate struct {
	DistanceMeters    float64        `json:"distance_m"`
	TravelTimeSeconds float64        `json:"travel_time_sec"`
	Polyline          orb.LineString `json:"polyline,omitempty"`
}

// Router estimates a road-network route between two coordinates.
type Router interface {
	Route(ctx context.Context, from, to geo.Coordinate) (*Estimate, error)
}

// DestinationRef identifies a destination before it is resolved to a
// coordinate. Source may be left empty; it is then inferred from whichever
// of JobID, Address or Coordinate is set, in that order.
type DestinationRef struct {
	Source     trip.DestinationSource `json:"source,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Coordinate *geo.Coordinate        `json:"coordinate,omitempty"`
	Address    string                 `json:"address,omitempty"`
	JobID      string                 `json:"job_id,omitempty"`
}

// Resolver turns a destination reference into a destination with a
// coordinate.
type Resolver interface {
	Resolve(ctx context.Context, ref DestinationRef) (*trip.Destination, error)
}

// InferSource returns ref.Source, or the source implied by the fields set.
func (ref DestinationRef) InferSource() trip.DestinationSource {
	switch {
	case ref.Source != "":
		return ref.Source
	case ref.JobID != "":
		return trip.SourceJob
	case ref.Address != "":
		return trip.SourceAddress
	case ref.Coordinate != nil:
		return trip.SourceCoordinate
	default:
		return ""
	}
}
