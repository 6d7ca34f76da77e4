// Package routing talks to OSRM-compatible routing and Nominatim-compatible
// geocoding services over HTTP, and resolves trip destinations.
package routing

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UserAgent identifies requests to public routing and geocoding services.
const UserAgent = "mileage/1.0 (+https://github.com/hpungsan/mileage)"

// DefaultTimeout bounds each request when no client is supplied.
const DefaultTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// joinURL appends path to base, tolerating a trailing slash on base.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// withKey adds key to params when set.
func withKey(params url.Values, key string) url.Values {
	if key != "" {
		params.Set("key", key)
	}
	return params
}
