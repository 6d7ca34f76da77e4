package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/trip"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID           string
	IncludeRoute *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	trip.Record                     // embedded (copy, not pointer)
	EffectiveDistanceMeters float64 `json:"effective_distance_m"`
	RoutePoints             int     `json:"route_points"`
}

// Fetch retrieves a trip record by ID.
func Fetch(ctx context.Context, database *sql.DB, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	r, err := db.GetTrip(ctx, database, id)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		Record:                  *r,
		EffectiveDistanceMeters: r.EffectiveDistanceMeters(),
		RoutePoints:             len(r.Route),
	}

	includeRoute := true
	if input.IncludeRoute != nil {
		includeRoute = *input.IncludeRoute
	}
	if !includeRoute {
		output.Route = nil
		output.Polyline = nil
	}
	return output, nil
}
