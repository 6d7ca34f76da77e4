package routing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/trip"
)

// Geocoder converts addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Place, error)
}

// JobDirectory looks up a job by id or name.
type JobDirectory interface {
	GetJob(ctx context.Context, ref string) (*trip.Job, error)
}

// DBJobs is a JobDirectory over the jobs table.
type DBJobs struct {
	DB *sql.DB
}

// GetJob implements JobDirectory.
func (j DBJobs) GetJob(ctx context.Context, ref string) (*trip.Job, error) {
	return db.GetJob(ctx, j.DB, ref)
}

// Resolver is a capture.Resolver for coordinates, addresses and jobs.
// Geocoder may be nil when only coordinates and located jobs are used.
type Resolver struct {
	Geocoder Geocoder
	Jobs     JobDirectory
}

// Resolve implements capture.Resolver.
func (r *Resolver) Resolve(ctx context.Context, ref capture.DestinationRef) (*trip.Destination, error) {
	switch src := ref.InferSource(); src {
	case trip.SourceCoordinate:
		return r.coordinate(ref)
	case trip.SourceAddress:
		return r.address(ctx, ref)
	case trip.SourceJob:
		return r.job(ctx, ref)
	case "":
		return nil, errors.NewInvalidRequest("destination requires a coordinate, address or job")
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown destination source %q", src))
	}
}

func (r *Resolver) coordinate(ref capture.DestinationRef) (*trip.Destination, error) {
	if ref.Coordinate == nil || !ref.Coordinate.Valid() {
		return nil, errors.NewInvalidRequest("destination coordinate out of range")
	}
	c := *ref.Coordinate
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		name = fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lon)
	}
	return &trip.Destination{Name: name, Coordinate: &c, Source: trip.SourceCoordinate}, nil
}

func (r *Resolver) address(ctx context.Context, ref capture.DestinationRef) (*trip.Destination, error) {
	place, err := r.geocode(ctx, ref.Address)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		name = strings.TrimSpace(ref.Address)
	}
	c := place.Coordinate
	return &trip.Destination{
		Name:       name,
		Coordinate: &c,
		Source:     trip.SourceAddress,
		Address:    place.DisplayName,
	}, nil
}

// job resolves a job reference; a job without a stored coordinate is
// geocoded from its address.
func (r *Resolver) job(ctx context.Context, ref capture.DestinationRef) (*trip.Destination, error) {
	if r.Jobs == nil {
		return nil, errors.NewInvalidRequest("job destinations are not available")
	}
	key := ref.JobID
	if key == "" {
		key = ref.Name
	}
	job, err := r.Jobs.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}

	dest := &trip.Destination{
		Name:    job.Name,
		Source:  trip.SourceJob,
		JobID:   job.ID,
		Address: job.Address,
	}
	switch {
	case job.Coordinate != nil:
		c := *job.Coordinate
		dest.Coordinate = &c
	case job.Address != "":
		place, err := r.geocode(ctx, job.Address)
		if err != nil {
			return nil, err
		}
		c := place.Coordinate
		dest.Coordinate = &c
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("job %q has no location", job.Name))
	}
	return dest, nil
}

func (r *Resolver) geocode(ctx context.Context, address string) (*Place, error) {
	if r.Geocoder == nil {
		return nil, errors.NewInvalidRequest("address destinations require a geocoder")
	}
	return r.Geocoder.Geocode(ctx, address)
}

var _ capture.Resolver = (*Resolver)(nil)
var _ capture.Router = (*OSRM)(nil)
var _ Geocoder = (*Nominatim)(nil)
