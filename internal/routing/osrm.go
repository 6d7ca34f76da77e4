package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
)

// OSRM is a capture.Router backed by an OSRM-compatible HTTP service.
type OSRM struct {
	baseURL    string
	apiKey     string
	profile    string
	httpClient *http.Client
}

// osrmResponse is the subset of the OSRM route response we read.
type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64           `json:"distance"`
		Duration float64           `json:"duration"`
		Geometry *geojson.Geometry `json:"geometry"`
	} `json:"routes"`
}

// NewOSRM creates a router for baseURL using the driving profile.
func NewOSRM(baseURL, apiKey string, timeout time.Duration) *OSRM {
	return &OSRM{
		baseURL:    baseURL,
		apiKey:     apiKey,
		profile:    "driving",
		httpClient: newHTTPClient(timeout),
	}
}

// Route requests the fastest road route from one coordinate to another.
// All failures are reported as ROUTE_UNAVAILABLE.
func (o *OSRM) Route(ctx context.Context, from, to geo.Coordinate) (*capture.Estimate, error) {
	if !from.Valid() || !to.Valid() {
		return nil, errors.NewInvalidRequest("route endpoints out of range")
	}

	coords := fmt.Sprintf("%f,%f;%f,%f", from.Lon, from.Lat, to.Lon, to.Lat)
	params := withKey(url.Values{
		"overview":   {"full"},
		"geometries": {"geojson"},
	}, o.apiKey)
	fullURL := fmt.Sprintf("%s?%s", joinURL(o.baseURL, "/route/v1/"+o.profile+"/"+coords), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, errors.NewRouteUnavailable(err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	var result osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, errors.NewRouteUnavailable(fmt.Errorf("routing API returned status code %d", resp.StatusCode))
		}
		return nil, errors.NewRouteUnavailable(fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.StatusCode != http.StatusOK || result.Code != "Ok" {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("routing API returned %d %s: %s", resp.StatusCode, result.Code, result.Message))
	}
	if len(result.Routes) == 0 {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("no route found"))
	}

	best := result.Routes[0]
	est := &capture.Estimate{
		DistanceMeters:    best.Distance,
		TravelTimeSeconds: best.Duration,
	}
	if best.Geometry != nil {
		if ls, ok := best.Geometry.Geometry().(orb.LineString); ok {
			est.Polyline = ls
		}
	}
	return est, nil
}
