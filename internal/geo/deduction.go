package geo

import "math"

// Deduction applies a two-tier rate to a distance in kilometres:
// min(totalKm, limitKm)*firstRate + max(0, totalKm-limitKm)*secondRate.
// Negative or NaN totals count as zero.
func Deduction(totalKm, limitKm, firstRate, secondRate float64) float64 {
	if math.IsNaN(totalKm) || totalKm <= 0 {
		return 0
	}
	if limitKm < 0 {
		limitKm = 0
	}
	first := math.Min(totalKm, limitKm)
	second := math.Max(0, totalKm-limitKm)
	return first*firstRate + second*secondRate
}

// Tiers is a two-band mileage rate table.
type Tiers struct {
	LimitKm    float64 `json:"limit_km"`
	FirstRate  float64 `json:"first_rate"`
	SecondRate float64 `json:"second_rate"`
}

// Apply returns the deduction for a cumulative total.
func (t Tiers) Apply(totalKm float64) float64 {
	return Deduction(totalKm, t.LimitKm, t.FirstRate, t.SecondRate)
}

// Marginal returns the share of the deduction earned by km on top of priorKm
// already claimed in the same period.
func (t Tiers) Marginal(priorKm, km float64) float64 {
	if km <= 0 {
		return 0
	}
	if priorKm < 0 {
		priorKm = 0
	}
	return t.Apply(priorKm+km) - t.Apply(priorKm)
}

// MetersToKm converts meters to kilometres.
func MetersToKm(m float64) float64 {
	return m / 1000
}
