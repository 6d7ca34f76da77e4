package capture

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// RouteInput describes a route-based trip.
type RouteInput struct {
	Destination DestinationRef

	// Start overrides the captured start position when set.
	Start *geo.Coordinate

	Date       time.Time
	RoundTrip  bool
	StartName  string
	Purpose    string
	Notes      string
	ClientName string
}

// RouteBased records a trip from one start capture and an estimated route
// to a resolved destination. When the router fails the trip is still
// recorded with the straight-line distance.
type RouteBased struct {
	Locator  Locator
	Router   Router
	Resolver Resolver
	Now      func() time.Time
	Logger   *log.Logger
}

// NewRouteBased creates a route-based capture. router may be nil, in which
// case every trip uses the straight-line fallback.
func NewRouteBased(locator Locator, router Router, resolver Resolver) *RouteBased {
	return &RouteBased{
		Locator:  locator,
		Router:   router,
		Resolver: resolver,
		Now:      time.Now,
		Logger:   log.New(os.Stderr, "[capture] ", log.LstdFlags),
	}
}

// Capture resolves the destination, captures the start unless given, and
// estimates the route.
func (rb *RouteBased) Capture(ctx context.Context, in RouteInput) (*trip.Record, error) {
	dest, err := rb.Resolver.Resolve(ctx, in.Destination)
	if err != nil {
		return nil, err
	}
	if dest.Coordinate == nil || !dest.Coordinate.Valid() {
		return nil, errors.NewInvalidRequest("destination has no usable coordinate")
	}

	var start geo.Coordinate
	if in.Start != nil {
		if !in.Start.Valid() {
			return nil, errors.NewInvalidRequest("start coordinate out of range")
		}
		start = *in.Start
	} else {
		start, err = rb.Locator.CaptureSingleLocation(ctx)
		if err != nil {
			return nil, err
		}
	}
	end := *dest.Coordinate

	now := rb.now()
	date := in.Date
	if date.IsZero() {
		date = now
	}

	rec := &trip.Record{
		Date:              date,
		Mode:              trip.ModeRouteBased,
		RoundTrip:         in.RoundTrip,
		Start:             &start,
		End:               &end,
		StartName:         in.StartName,
		EndName:           dest.Name,
		Purpose:           in.Purpose,
		Notes:             in.Notes,
		JobID:             dest.JobID,
		ClientName:        in.ClientName,
		DestinationSource: dest.Source,
	}

	est, err := rb.estimate(ctx, start, end)
	switch {
	case err == nil:
		dist, secs := est.DistanceMeters, est.TravelTimeSeconds
		rec.DistanceMeters = dist
		rec.EstimatedDistanceMeters = &dist
		rec.EstimatedTravelSeconds = &secs
		rec.Polyline = est.Polyline
		rec.WasRouteCalculated = true
	case ctx.Err() != nil:
		return nil, errors.NewCancelled("route estimate")
	default:
		rb.logf("route estimate failed, using straight-line distance: %v", err)
		var zero float64
		rec.DistanceMeters = geo.DistanceMeters(start, end)
		rec.EstimatedTravelSeconds = &zero
		rec.WasRouteCalculated = false
	}

	rec.NormalizeText()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (rb *RouteBased) estimate(ctx context.Context, from, to geo.Coordinate) (*Estimate, error) {
	if rb.Router == nil {
		return nil, errors.NewRouteUnavailable(nil)
	}
	est, err := rb.Router.Route(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if est == nil || est.DistanceMeters < 0 {
		return nil, errors.NewRouteUnavailable(nil)
	}
	return est, nil
}

func (rb *RouteBased) now() time.Time {
	if rb.Now != nil {
		return rb.Now()
	}
	return time.Now()
}

func (rb *RouteBased) logf(format string, args ...any) {
	if rb.Logger != nil {
		rb.Logger.Printf(format, args...)
	}
}
