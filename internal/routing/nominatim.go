package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
)

// Place is a geocoded address.
type Place struct {
	DisplayName string         `json:"display_name"`
	Coordinate  geo.Coordinate `json:"coordinate"`
}

// Nominatim geocodes free-text addresses.
type Nominatim struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewNominatim creates a geocoder for baseURL.
func NewNominatim(baseURL, apiKey string, timeout time.Duration) *Nominatim {
	return &Nominatim{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(timeout),
	}
}

// Geocode converts an address string to a coordinate. An address with no
// match is NOT_FOUND; service failures are ROUTE_UNAVAILABLE.
func (n *Nominatim) Geocode(ctx context.Context, address string) (*Place, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.NewInvalidRequest("address is required")
	}

	params := withKey(url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}, n.apiKey)
	fullURL := fmt.Sprintf("%s?%s", joinURL(n.baseURL, "/search"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, errors.NewRouteUnavailable(err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("geocoding API returned status code %d", resp.StatusCode))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(results) == 0 {
		return nil, errors.NewNotFound(address)
	}

	first := results[0]
	lat, err := strconv.ParseFloat(first.Lat, 64)
	if err != nil {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("bad latitude %q: %w", first.Lat, err))
	}
	lon, err := strconv.ParseFloat(first.Lon, 64)
	if err != nil {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("bad longitude %q: %w", first.Lon, err))
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return nil, errors.NewRouteUnavailable(fmt.Errorf("geocoder returned out-of-range coordinate %v", c))
	}
	return &Place{DisplayName: first.DisplayName, Coordinate: c}, nil
}
