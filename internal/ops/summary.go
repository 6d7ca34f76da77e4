package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/mileage/internal/config"
	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// SummaryInput contains parameters for the Summary operation.
type SummaryInput struct {
	Year int // default: current year
}

// SummaryItem is one trip's place in the annual total.
type SummaryItem struct {
	ID           string            `json:"id"`
	Date         string            `json:"date"`
	Mode         trip.TrackingMode `json:"tracking_mode"`
	EndName      string            `json:"end_name,omitempty"`
	Purpose      string            `json:"purpose,omitempty"`
	EffectiveKm  float64           `json:"effective_km"`
	CumulativeKm float64           `json:"cumulative_km"`

	// Deduction is the trip's marginal share of the annual deduction.
	Deduction float64 `json:"deduction"`
}

// SummaryOutput contains the result of the Summary operation.
type SummaryOutput struct {
	Year         int           `json:"year"`
	Trips        int           `json:"trips"`
	TotalKm      float64       `json:"total_km"`
	FirstTierKm  float64       `json:"first_tier_km"`
	SecondTierKm float64       `json:"second_tier_km"`
	Deduction    float64       `json:"deduction"`
	Tiers        geo.Tiers     `json:"tiers"`
	Items        []SummaryItem `json:"items"`
}

// Tiers returns the rate table configured in cfg.
func Tiers(cfg *config.Config) geo.Tiers {
	return geo.Tiers{LimitKm: cfg.TierLimitKm, FirstRate: cfg.Tier1Rate, SecondRate: cfg.Tier2Rate}
}

// Summary computes the annual deduction. Tiers apply to the calendar-year
// total of effective distances; each trip is credited with its marginal
// share in chronological order, so the shares sum to the annual figure.
func Summary(ctx context.Context, database *sql.DB, cfg *config.Config, input SummaryInput) (*SummaryOutput, error) {
	year := input.Year
	if year == 0 {
		year = time.Now().Year()
	}
	if year < 1900 || year > 9999 {
		return nil, errors.NewInvalidRequest("year out of range")
	}

	trips, err := db.ListTrips(ctx, database, db.TripFilter{Year: year, Chronological: true})
	if err != nil {
		return nil, err
	}

	tiers := Tiers(cfg)
	out := &SummaryOutput{
		Year:  year,
		Trips: len(trips),
		Tiers: tiers,
		Items: make([]SummaryItem, 0, len(trips)),
	}

	var cumulative float64
	for _, t := range trips {
		km := geo.MetersToKm(t.EffectiveDistanceMeters)
		share := tiers.Marginal(cumulative, km)
		cumulative += km
		out.Items = append(out.Items, SummaryItem{
			ID:           t.ID,
			Date:         t.Date.Format(DateLayout),
			Mode:         t.Mode,
			EndName:      t.EndName,
			Purpose:      t.Purpose,
			EffectiveKm:  km,
			CumulativeKm: cumulative,
			Deduction:    share,
		})
	}

	out.TotalKm = cumulative
	out.FirstTierKm = min(cumulative, tiers.LimitKm)
	out.SecondTierKm = max(0, cumulative-tiers.LimitKm)
	out.Deduction = tiers.Apply(cumulative)
	return out, nil
}
