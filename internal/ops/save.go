package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/trip"
)

// SaveOutput contains the result of the Save operation.
type SaveOutput struct {
	ID                      string            `json:"id"`
	Date                    string            `json:"date"`
	Mode                    trip.TrackingMode `json:"tracking_mode"`
	DistanceMeters          float64           `json:"distance_m"`
	EffectiveDistanceMeters float64           `json:"effective_distance_m"`
	WasRouteCalculated      bool              `json:"was_route_calculated"`
	Recovered               bool              `json:"recovered,omitempty"`
}

// Save validates and stores a finalized record. It assigns rec's ID,
// normalizes its date, and stamps created/updated times.
func Save(ctx context.Context, database *sql.DB, rec *trip.Record) (*SaveOutput, error) {
	if rec == nil {
		return nil, errors.NewInvalidRequest("record is required")
	}
	rec.NormalizeText()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()

	rec.ID = id
	rec.Date = NormalizeDate(rec.Date)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := db.InsertTrip(ctx, database, rec); err != nil {
		return nil, err
	}

	return &SaveOutput{
		ID:                      rec.ID,
		Date:                    rec.Date.Format(DateLayout),
		Mode:                    rec.Mode,
		DistanceMeters:          rec.DistanceMeters,
		EffectiveDistanceMeters: rec.EffectiveDistanceMeters(),
		WasRouteCalculated:      rec.WasRouteCalculated,
		Recovered:               rec.Recovered,
	}, nil
}

// Sink stores records finalized by recovery.
type Sink struct {
	DB *sql.DB
}

// Save stores rec and returns it with its assigned ID.
func (s Sink) Save(ctx context.Context, rec *trip.Record) (*trip.Record, error) {
	if _, err := Save(ctx, s.DB, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
