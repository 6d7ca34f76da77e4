package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/mileage/internal/config"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/gpx"
	"github.com/hpungsan/mileage/internal/route"
	"github.com/hpungsan/mileage/internal/trip"
)

// ImportGPXInput contains parameters for the ImportGPX operation.
type ImportGPXInput struct {
	Path       string // required, .gpx directly in an allowed directory
	RoundTrip  bool
	StartName  string
	EndName    string
	Purpose    string
	Notes      string
	JobID      string
	ClientName string
}

// ImportGPXOutput contains the result of the ImportGPX operation.
type ImportGPXOutput struct {
	SaveOutput
	Samples  int `json:"samples"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// RouteConfig returns the sample filters configured in cfg.
func RouteConfig(cfg *config.Config) route.Config {
	return route.Config{MaxAccuracyMeters: cfg.MaxAccuracyMeters, MaxSpeedMPS: cfg.MaxSpeedMPS}
}

// ImportGPX records a continuous trip from a GPX track logged by another
// device. Samples pass through the same filters as live tracking.
func ImportGPX(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportGPXInput) (*ImportGPXOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, cfg, ".gpx"); err != nil {
		return nil, err
	}

	f, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := err.(*errors.MileageError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open GPX file: %w", err))
	}
	defer f.Close()

	doc, err := gpx.ParseReader(f)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	samples := doc.Samples()
	acc := route.New(RouteConfig(cfg))
	for _, s := range samples {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("import")
		}
		acc.Accept(s)
	}
	if acc.Len() < 2 {
		return nil, errors.NewInvalidRequest(
			fmt.Sprintf("GPX track has %d usable points; at least 2 timestamped points are required", acc.Len()))
	}

	first, _ := acc.First()
	last, _ := acc.Last()
	start, end := first.Coordinate(), last.Coordinate()

	rec := trip.FromResult(&trip.Result{
		Mode:              trip.ModeContinuous,
		StartedAt:         first.Timestamp,
		EndedAt:           last.Timestamp,
		Duration:          last.Timestamp.Sub(first.Timestamp).Truncate(time.Second),
		DistanceMeters:    acc.Distance(),
		Start:             &start,
		End:               &end,
		Route:             acc.Route(),
		Purpose:           input.Purpose,
		StartLocationName: input.StartName,
	})
	rec.RoundTrip = input.RoundTrip
	rec.Notes = input.Notes
	rec.JobID = strings.TrimSpace(input.JobID)
	rec.ClientName = input.ClientName
	if input.EndName != "" {
		rec.EndName = input.EndName
	} else if len(doc.Tracks) > 0 {
		rec.EndName = doc.Tracks[0].Name
	}

	saved, err := Save(ctx, database, rec)
	if err != nil {
		return nil, err
	}
	return &ImportGPXOutput{
		SaveOutput: *saved,
		Samples:    len(samples),
		Accepted:   acc.Len(),
		Rejected:   len(samples) - acc.Len(),
	}, nil
}
