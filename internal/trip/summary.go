package trip

import "time"

// RecordSummary is a record without its route and polyline.
// Used by list and summary operations.
type RecordSummary struct {
	ID                      string       `json:"id"`
	Date                    time.Time    `json:"date"`
	Mode                    TrackingMode `json:"tracking_mode"`
	DistanceMeters          float64      `json:"distance_m"`
	RoundTrip               bool         `json:"round_trip"`
	EffectiveDistanceMeters float64      `json:"effective_distance_m"`
	StartName               string       `json:"start_name,omitempty"`
	EndName                 string       `json:"end_name,omitempty"`
	Purpose                 string       `json:"purpose,omitempty"`
	JobID                   string       `json:"job_id,omitempty"`
	WasRouteCalculated      bool         `json:"was_route_calculated"`
	Recovered               bool         `json:"recovered,omitempty"`
	RoutePoints             int          `json:"route_points"`
	CreatedAt               int64        `json:"created_at"`
}

// Summarize projects r onto a RecordSummary.
func Summarize(r *Record) RecordSummary {
	return RecordSummary{
		ID:                      r.ID,
		Date:                    r.Date,
		Mode:                    r.Mode,
		DistanceMeters:          r.DistanceMeters,
		RoundTrip:               r.RoundTrip,
		EffectiveDistanceMeters: r.EffectiveDistanceMeters(),
		StartName:               r.StartName,
		EndName:                 r.EndName,
		Purpose:                 r.Purpose,
		JobID:                   r.JobID,
		WasRouteCalculated:      r.WasRouteCalculated,
		Recovered:               r.Recovered,
		RoutePoints:             len(r.Route),
		CreatedAt:               r.CreatedAt,
	}
}
