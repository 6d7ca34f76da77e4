package capture

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// PointToPoint records a trip from two single location captures.
// A failed capture leaves earlier captures in place so the user can retry.
type PointToPoint struct {
	locator Locator
	now     func() time.Time

	mu        sync.Mutex
	start     *geo.Coordinate
	startedAt time.Time
	end       *geo.Coordinate
	endedAt   time.Time
}

// P2PState reports the captures taken so far.
type P2PState struct {
	Start     *geo.Coordinate `json:"start,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	End       *geo.Coordinate `json:"end,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`

	// DistanceMeters is the straight-line distance once both ends are known.
	DistanceMeters float64 `json:"distance_m"`
}

// Details is the metadata attached when the point-to-point trip is saved.
type Details struct {
	Date       time.Time
	RoundTrip  bool
	StartName  string
	EndName    string
	Purpose    string
	Notes      string
	JobID      string
	ClientName string
}

// NewPointToPoint creates a point-to-point capture. now defaults to time.Now.
func NewPointToPoint(locator Locator, now func() time.Time) *PointToPoint {
	if now == nil {
		now = time.Now
	}
	return &PointToPoint{locator: locator, now: now}
}

// CaptureStart records the starting position, replacing any previous
// captures.
func (p *PointToPoint) CaptureStart(ctx context.Context) (geo.Coordinate, error) {
	c, err := p.locator.CaptureSingleLocation(ctx)
	if err != nil {
		return geo.Coordinate{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = &c
	p.startedAt = p.now()
	p.end = nil
	p.endedAt = time.Time{}
	return c, nil
}

// CaptureEnd records the ending position. The start must be captured first.
func (p *PointToPoint) CaptureEnd(ctx context.Context) (geo.Coordinate, error) {
	p.mu.Lock()
	started := p.start != nil
	p.mu.Unlock()
	if !started {
		return geo.Coordinate{}, errors.NewInvalidRequest("capture the start location first")
	}

	c, err := p.locator.CaptureSingleLocation(ctx)
	if err != nil {
		return geo.Coordinate{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start == nil {
		return geo.Coordinate{}, errors.NewInvalidRequest("point-to-point capture was reset")
	}
	p.end = &c
	p.endedAt = p.now()
	return c, nil
}

// State returns the captures taken so far.
func (p *PointToPoint) State() P2PState {
	p.mu.Lock()
	defer p.mu.Unlock()

	var st P2PState
	if p.start != nil {
		start, at := *p.start, p.startedAt
		st.Start, st.StartedAt = &start, &at
	}
	if p.end != nil {
		end, at := *p.end, p.endedAt
		st.End, st.EndedAt = &end, &at
		st.DistanceMeters = geo.DistanceMeters(*p.start, end)
	}
	return st
}

// Record builds the trip from both captures and resets the capture.
// Distance is the one-way straight line; round trips double it through
// the record's effective distance.
func (p *PointToPoint) Record(d Details) (*trip.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.start == nil || p.end == nil {
		return nil, errors.NewInvalidRequest("both start and end locations must be captured")
	}

	start, end := *p.start, *p.end
	startedAt, endedAt := p.startedAt, p.endedAt
	dur := int64(endedAt.Sub(startedAt) / time.Second)
	if dur < 0 {
		dur = 0
	}

	date := d.Date
	if date.IsZero() {
		date = startedAt
	}

	rec := &trip.Record{
		Date:            date,
		Mode:            trip.ModePointToPoint,
		DistanceMeters:  geo.DistanceMeters(start, end),
		RoundTrip:       d.RoundTrip,
		Start:           &start,
		End:             &end,
		StartName:       d.StartName,
		EndName:         d.EndName,
		StartedAt:       &startedAt,
		EndedAt:         &endedAt,
		DurationSeconds: &dur,
		Purpose:         d.Purpose,
		Notes:           d.Notes,
		JobID:           d.JobID,
		ClientName:      d.ClientName,
	}
	rec.NormalizeText()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	p.start, p.end = nil, nil
	p.startedAt, p.endedAt = time.Time{}, time.Time{}
	return rec, nil
}

// Reset drops any captures.
func (p *PointToPoint) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start, p.end = nil, nil
	p.startedAt, p.endedAt = time.Time{}, time.Time{}
}
