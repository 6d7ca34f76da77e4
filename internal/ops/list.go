package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/trip"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Year   int    // 0 = all years
	Mode   string // optional tracking mode filter
	JobID  string // optional job filter
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []trip.RecordSummary `json:"items"`
	Pagination Pagination           `json:"pagination"`
	Sort       string               `json:"sort"`
}

// List retrieves trip summaries, newest first, with pagination.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	var mode trip.TrackingMode
	if strings.TrimSpace(input.Mode) != "" {
		m, err := trip.ParseTrackingMode(input.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	limit := clampLimit(input.Limit)
	offset := max(input.Offset, 0)

	filter := db.TripFilter{
		Year:   input.Year,
		Mode:   mode,
		JobID:  strings.TrimSpace(input.JobID),
		Limit:  limit,
		Offset: offset,
	}

	summaries, err := db.ListTrips(ctx, database, filter)
	if err != nil {
		return nil, err
	}
	total, err := db.CountTrips(ctx, database, filter)
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items: summaries,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(summaries) < total,
			Total:   total,
		},
		Sort: "date_desc",
	}, nil
}
