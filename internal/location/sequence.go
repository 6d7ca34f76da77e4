package location

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// Sequence answers successive CurrentSample calls with fixed positions.
// The CLI uses it to feed --from/--to coordinates through the same capture
// path a device would use. It does not support continuous tracking.
type Sequence struct {
	Authorizer

	// Now defaults to time.Now.
	Now func() time.Time

	mu   sync.Mutex
	pos  []geo.Coordinate
	next int
}

// NewSequence creates a sequence over positions.
func NewSequence(positions ...geo.Coordinate) *Sequence {
	return &Sequence{pos: positions}
}

// CurrentSample returns the next position, or ErrUnavailable when exhausted.
func (s *Sequence) CurrentSample(ctx context.Context) (trip.GeoSample, error) {
	if err := ctx.Err(); err != nil {
		return trip.GeoSample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.pos) {
		return trip.GeoSample{}, ErrUnavailable
	}
	c := s.pos[s.next]
	s.next++

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return trip.GeoSample{Lat: c.Lat, Lon: c.Lon, Timestamp: now()}, nil
}

// Subscribe is not supported.
func (s *Sequence) Subscribe(ctx context.Context) (<-chan trip.GeoSample, error) {
	return nil, ErrUnavailable
}
