package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/trip"
)

// SnapshotStore persists the in-progress trip snapshot and its route-point
// log. There is a single snapshot slot per database.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore wraps an initialized database.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes snap into the slot, replacing any previous snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap *trip.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO trip_snapshot (slot, session_id, payload, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			session_id = excluded.session_id,
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`
	if _, err := s.db.ExecContext(ctx, query, snap.SessionID, string(payload), snap.LastSavedAt.UnixNano()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when the slot is empty.
// A payload that does not decode or validate yields SNAPSHOT_CORRUPT.
func (s *SnapshotStore) Load(ctx context.Context) (*trip.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM trip_snapshot WHERE slot = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var snap trip.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, errors.NewSnapshotCorrupt(err)
	}
	if err := snap.Validate(); err != nil {
		return nil, errors.NewSnapshotCorrupt(err)
	}
	return &snap, nil
}

// Clear removes the snapshot and every logged route point.
// Clearing an empty store is a no-op.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trip_snapshot`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM snapshot_points`)
		return err
	})
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// AppendPoints logs points for sessionID starting at sequence startSeq.
// Re-appending an already logged sequence number is ignored, so a retried
// flush never duplicates points.
func (s *SnapshotStore) AppendPoints(ctx context.Context, sessionID string, startSeq int, points []trip.RoutePoint) error {
	if len(points) == 0 {
		return nil
	}
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO snapshot_points (session_id, seq, lat, lon, ts, speed, course, altitude)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, p := range points {
			if _, err := stmt.ExecContext(ctx,
				sessionID, startSeq+i, p.Lat, p.Lon, p.Timestamp.UnixNano(),
				toNullFloat(p.Speed), toNullFloat(p.Course), toNullFloat(p.Altitude),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Points returns the logged route for sessionID in sequence order.
func (s *SnapshotStore) Points(ctx context.Context, sessionID string) ([]trip.RoutePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lat, lon, ts, speed, course, altitude
		FROM snapshot_points
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	points, err := scanRoutePoints(rows)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return points, nil
}

// scanRoutePoints reads lat, lon, ts, speed, course, altitude rows.
func scanRoutePoints(rows *sql.Rows) ([]trip.RoutePoint, error) {
	var points []trip.RoutePoint
	for rows.Next() {
		var (
			p                       trip.RoutePoint
			ts                      int64
			speed, course, altitude sql.NullFloat64
		)
		if err := rows.Scan(&p.Lat, &p.Lon, &ts, &speed, &course, &altitude); err != nil {
			return nil, err
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		p.Speed = fromNullFloat(speed)
		p.Course = fromNullFloat(course)
		p.Altitude = fromNullFloat(altitude)
		points = append(points, p)
	}
	return points, rows.Err()
}

// toNullFloat converts a *float64 to sql.NullFloat64.
func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// fromNullFloat converts a sql.NullFloat64 to *float64.
func fromNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
