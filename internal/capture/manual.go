package capture

import (
	"math"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/trip"
)

// ManualInput is a user-entered trip.
type ManualInput struct {
	Date           time.Time
	DistanceMeters float64
	RoundTrip      bool
	StartName      string
	EndName        string
	Purpose        string
	Notes          string
	JobID          string
	ClientName     string
}

// Manual builds a record from user-entered distance and metadata. A zero
// date means today.
func Manual(in ManualInput, now time.Time) (*trip.Record, error) {
	if math.IsNaN(in.DistanceMeters) || math.IsInf(in.DistanceMeters, 0) || in.DistanceMeters <= 0 {
		return nil, errors.NewInvalidRequest("distance must be a positive number")
	}

	date := in.Date
	if date.IsZero() {
		date = now
	}

	rec := &trip.Record{
		Date:           date,
		Mode:           trip.ModeManual,
		DistanceMeters: in.DistanceMeters,
		RoundTrip:      in.RoundTrip,
		StartName:      in.StartName,
		EndName:        in.EndName,
		Purpose:        in.Purpose,
		Notes:          in.Notes,
		JobID:          in.JobID,
		ClientName:     in.ClientName,
	}
	rec.NormalizeText()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
