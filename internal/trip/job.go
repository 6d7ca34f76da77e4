package trip

import (
	"strings"

	"github.com/hpungsan/mileage/internal/geo"
)

// Job is a saved destination (client site, well, yard) that a route-based
// trip can link to instead of geocoding an address.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Address    string          `json:"address,omitempty"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
	ClientName string          `json:"client_name,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// NormalizeName lowercases, trims, and collapses internal whitespace so job
// lookups by name are forgiving.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
