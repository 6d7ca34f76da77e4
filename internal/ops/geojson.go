package ops

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/mileage/internal/trip"
)

// RecordLine returns the best available geometry for r: the logged route,
// else the routing polyline, else the straight start-end segment. It is
// empty when r has no coordinates.
func RecordLine(r *trip.Record) orb.LineString {
	switch {
	case len(r.Route) > 0:
		ls := make(orb.LineString, 0, len(r.Route))
		for _, p := range r.Route {
			ls = append(ls, p.Coordinate().Point())
		}
		return ls
	case len(r.Polyline) > 0:
		return r.Polyline
	case r.Start != nil && r.End != nil:
		return orb.LineString{r.Start.Point(), r.End.Point()}
	default:
		return nil
	}
}

// RecordFeature builds a GeoJSON feature for r, or nil when r has no
// geometry.
func RecordFeature(r *trip.Record) *geojson.Feature {
	line := RecordLine(r)
	if len(line) == 0 {
		return nil
	}
	f := geojson.NewFeature(line)
	f.ID = r.ID
	f.Properties["id"] = r.ID
	f.Properties["date"] = r.Date.Format(DateLayout)
	f.Properties["tracking_mode"] = string(r.Mode)
	f.Properties["distance_m"] = r.DistanceMeters
	f.Properties["effective_distance_m"] = r.EffectiveDistanceMeters()
	f.Properties["round_trip"] = r.RoundTrip
	f.Properties["was_route_calculated"] = r.WasRouteCalculated
	if r.StartName != "" {
		f.Properties["start_name"] = r.StartName
	}
	if r.EndName != "" {
		f.Properties["end_name"] = r.EndName
	}
	if r.Purpose != "" {
		f.Properties["purpose"] = r.Purpose
	}
	return f
}
