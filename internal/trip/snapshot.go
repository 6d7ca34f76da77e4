package trip

import (
	"fmt"
	"math"
	"time"

	"github.com/hpungsan/mileage/internal/geo"
)

// Snapshot is the durable projection of an in-progress session.
// It exists only while a session is active and not cleanly finalized.
type Snapshot struct {
	SessionID             string            `json:"session_id"`
	StartedAt             time.Time         `json:"started_at"`
	Mode                  TrackingMode      `json:"tracking_mode"`
	PointCount            int               `json:"point_count"`
	DistanceMeters        float64           `json:"distance_m"`
	Purpose               string            `json:"purpose,omitempty"`
	DestinationName       string            `json:"destination_name,omitempty"`
	DestinationCoordinate *geo.Coordinate   `json:"destination,omitempty"`
	DestinationSource     DestinationSource `json:"destination_source,omitempty"`
	DestinationJobID      string            `json:"destination_job_id,omitempty"`
	StartLocationName     string            `json:"start_location_name,omitempty"`
	StartCoordinate       *geo.Coordinate   `json:"start,omitempty"`
	LastSavedAt           time.Time         `json:"last_saved_at"`
}

// Validate checks that a decoded snapshot is usable for recovery.
func (s *Snapshot) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("missing session_id")
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("invalid tracking_mode %q", s.Mode)
	}
	if s.StartedAt.IsZero() {
		return fmt.Errorf("missing started_at")
	}
	if s.LastSavedAt.IsZero() {
		return fmt.Errorf("missing last_saved_at")
	}
	if s.PointCount < 0 {
		return fmt.Errorf("negative point_count")
	}
	if math.IsNaN(s.DistanceMeters) || math.IsInf(s.DistanceMeters, 0) || s.DistanceMeters < 0 {
		return fmt.Errorf("invalid distance_m %v", s.DistanceMeters)
	}
	if !s.DestinationSource.Valid() {
		return fmt.Errorf("invalid destination_source %q", s.DestinationSource)
	}
	return nil
}

// Destination rebuilds the destination reference carried by the snapshot.
func (s *Snapshot) Destination() *Destination {
	if s.DestinationName == "" && s.DestinationCoordinate == nil && s.DestinationJobID == "" {
		return nil
	}
	return &Destination{
		Name:       s.DestinationName,
		Coordinate: s.DestinationCoordinate,
		Source:     s.DestinationSource,
		JobID:      s.DestinationJobID,
	}
}

// SetDestination copies d into the snapshot's flat destination fields.
func (s *Snapshot) SetDestination(d *Destination) {
	if d == nil {
		return
	}
	s.DestinationName = d.Name
	s.DestinationCoordinate = d.Coordinate
	s.DestinationSource = d.Source
	s.DestinationJobID = d.JobID
}
