package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// AddJobInput contains parameters for the AddJob operation.
type AddJobInput struct {
	Name       string   // required, unique after normalization
	Address    string   // optional, geocoded when the job is used
	Lat        *float64 // optional, requires Lon
	Lon        *float64 // optional, requires Lat
	ClientName string
}

// AddJobOutput contains the result of the AddJob operation.
type AddJobOutput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AddJob stores a job destination for route-based trips.
func AddJob(ctx context.Context, database *sql.DB, input AddJobInput) (*AddJobOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	if (input.Lat == nil) != (input.Lon == nil) {
		return nil, errors.NewInvalidRequest("lat and lon must be given together")
	}

	var coord *geo.Coordinate
	if input.Lat != nil {
		c := geo.Coordinate{Lat: *input.Lat, Lon: *input.Lon}
		if !c.Valid() {
			return nil, errors.NewInvalidRequest("coordinate out of range")
		}
		coord = &c
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	j := &trip.Job{
		ID:         id,
		Name:       name,
		Address:    strings.TrimSpace(input.Address),
		Coordinate: coord,
		ClientName: strings.TrimSpace(input.ClientName),
		CreatedAt:  time.Now().Unix(),
	}
	if err := db.InsertJob(ctx, database, j); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("job %q already exists", name))
		}
		return nil, err
	}

	return &AddJobOutput{ID: id, Name: name}, nil
}

// ListJobsOutput contains the result of the ListJobs operation.
type ListJobsOutput struct {
	Items []trip.Job `json:"items"`
}

// ListJobs returns all job destinations.
func ListJobs(ctx context.Context, database *sql.DB) (*ListJobsOutput, error) {
	jobs, err := db.ListJobs(ctx, database)
	if err != nil {
		return nil, err
	}
	return &ListJobsOutput{Items: jobs}, nil
}
