package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/trip"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.MileageError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// TripFilter narrows ListTrips and CountTrips.
type TripFilter struct {
	Year  int               // 0 = all years
	Mode  trip.TrackingMode // "" = all modes
	JobID string            // "" = all jobs

	// Chronological orders oldest first; the default is newest first.
	Chronological bool

	Limit  int // 0 = no limit
	Offset int
}

// InsertTrip stores a finalized record and its route in one transaction.
func InsertTrip(ctx context.Context, db *sql.DB, r *trip.Record) error {
	var polyline sql.NullString
	if len(r.Polyline) > 0 {
		data, err := json.Marshal(r.Polyline)
		if err != nil {
			return errors.NewInternal(err)
		}
		polyline = sql.NullString{String: string(data), Valid: true}
	}

	startLat, startLon := coordColumns(r.Start)
	endLat, endLon := coordColumns(r.End)

	query := `
		INSERT INTO trips (
			id, trip_date, trip_year, tracking_mode, distance_m, round_trip, effective_distance_m,
			start_lat, start_lon, end_lat, end_lon, start_name, end_name,
			started_at, ended_at, duration_sec, purpose, notes, job_id, client_name,
			est_distance_m, est_travel_sec, polyline_json, was_route_calculated,
			destination_source, recovered, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			r.ID, r.Date.Unix(), r.Date.Year(), string(r.Mode), r.DistanceMeters, r.RoundTrip, r.EffectiveDistanceMeters(),
			startLat, startLon, endLat, endLon, nullIfEmpty(r.StartName), nullIfEmpty(r.EndName),
			toNullTime(r.StartedAt), toNullTime(r.EndedAt), toNullInt(r.DurationSeconds),
			nullIfEmpty(r.Purpose), nullIfEmpty(r.Notes), nullIfEmpty(r.JobID), nullIfEmpty(r.ClientName),
			toNullFloat(r.EstimatedDistanceMeters), toNullFloat(r.EstimatedTravelSeconds), polyline, r.WasRouteCalculated,
			nullIfEmpty(string(r.DestinationSource)), r.Recovered, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if len(r.Route) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trip_route_points (trip_id, seq, lat, lon, ts, speed, course, altitude)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, p := range r.Route {
			if _, err := stmt.ExecContext(ctx,
				r.ID, i, p.Lat, p.Lon, p.Timestamp.UnixNano(),
				toNullFloat(p.Speed), toNullFloat(p.Course), toNullFloat(p.Altitude),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite reports both UNIQUE and PRIMARY KEY violations as "UNIQUE constraint failed: ..."
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const tripColumns = `
	id, trip_date, tracking_mode, distance_m, round_trip,
	start_lat, start_lon, end_lat, end_lon, start_name, end_name,
	started_at, ended_at, duration_sec, purpose, notes, job_id, client_name,
	est_distance_m, est_travel_sec, polyline_json, was_route_calculated,
	destination_source, recovered, created_at, updated_at
`

// GetTrip retrieves a record and its route by ID.
func GetTrip(ctx context.Context, db *sql.DB, id string) (*trip.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id)
	r, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT lat, lon, ts, speed, course, altitude
		FROM trip_route_points
		WHERE trip_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	r.Route, err = scanRoutePoints(rows)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListTrips returns record summaries matching f.
func ListTrips(ctx context.Context, db *sql.DB, f TripFilter) ([]trip.RecordSummary, error) {
	where, args := tripWhere(f)

	order := "DESC"
	if f.Chronological {
		order = "ASC"
	}
	query := `SELECT ` + tripColumns + `,
		(SELECT COUNT(*) FROM trip_route_points p WHERE p.trip_id = trips.id)
		FROM trips` + where + `
		ORDER BY trip_date ` + order + `, created_at ` + order + `, id ` + order

	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	summaries := []trip.RecordSummary{}
	for rows.Next() {
		var points int
		r, err := scanTripInto(rows, &points)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		s := trip.Summarize(r)
		s.RoutePoints = points
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return summaries, nil
}

// CountTrips returns the number of records matching f, ignoring pagination.
func CountTrips(ctx context.Context, db *sql.DB, f TripFilter) (int, error) {
	where, args := tripWhere(f)
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`+where, args...).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// DeleteTrip permanently removes a record and its route.
func DeleteTrip(ctx context.Context, db *sql.DB, id string) error {
	var affected int64
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trip_route_points WHERE trip_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// InsertJob stores a job destination.
func InsertJob(ctx context.Context, db *sql.DB, j *trip.Job) error {
	lat, lon := coordColumns(j.Coordinate)
	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, name_norm, address, lat, lon, client_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Name, trip.NormalizeName(j.Name), nullIfEmpty(j.Address), lat, lon, nullIfEmpty(j.ClientName), j.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetJob retrieves a job by ID, falling back to a normalized name match.
func GetJob(ctx context.Context, db *sql.DB, ref string) (*trip.Job, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, address, lat, lon, client_name, created_at
		FROM jobs
		WHERE id = ? OR name_norm = ?
		ORDER BY (id = ?) DESC
		LIMIT 1
	`, ref, trip.NormalizeName(ref), ref)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(ref)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return j, nil
}

// ListJobs returns all jobs ordered by name.
func ListJobs(ctx context.Context, db *sql.DB) ([]trip.Job, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, address, lat, lon, client_name, created_at
		FROM jobs
		ORDER BY name_norm
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	jobs := []trip.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return jobs, nil
}

func tripWhere(f TripFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Year != 0 {
		clauses = append(clauses, "trip_year = ?")
		args = append(args, f.Year)
	}
	if f.Mode != "" {
		clauses = append(clauses, "tracking_mode = ?")
		args = append(args, string(f.Mode))
	}
	if f.JobID != "" {
		clauses = append(clauses, "job_id = ?")
		args = append(args, f.JobID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrip(row scanner) (*trip.Record, error) {
	return scanTripInto(row)
}

// scanTripInto scans tripColumns plus any extra trailing columns.
func scanTripInto(row scanner, extra ...any) (*trip.Record, error) {
	var (
		r                                  trip.Record
		date                               int64
		mode                               string
		startLat, startLon, endLat, endLon sql.NullFloat64
		startName, endName                 sql.NullString
		startedAt, endedAt, duration       sql.NullInt64
		purpose, notes, jobID, client      sql.NullString
		estDist, estTravel                 sql.NullFloat64
		polyline, destSource               sql.NullString
	)

	dest := []any{
		&r.ID, &date, &mode, &r.DistanceMeters, &r.RoundTrip,
		&startLat, &startLon, &endLat, &endLon, &startName, &endName,
		&startedAt, &endedAt, &duration, &purpose, &notes, &jobID, &client,
		&estDist, &estTravel, &polyline, &r.WasRouteCalculated,
		&destSource, &r.Recovered, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.Date = time.Unix(date, 0).UTC()
	r.Mode = trip.TrackingMode(mode)
	r.Start = fromCoordColumns(startLat, startLon)
	r.End = fromCoordColumns(endLat, endLon)
	r.StartName = startName.String
	r.EndName = endName.String
	r.StartedAt = fromNullTime(startedAt)
	r.EndedAt = fromNullTime(endedAt)
	if duration.Valid {
		d := duration.Int64
		r.DurationSeconds = &d
	}
	r.Purpose = purpose.String
	r.Notes = notes.String
	r.JobID = jobID.String
	r.ClientName = client.String
	r.EstimatedDistanceMeters = fromNullFloat(estDist)
	r.EstimatedTravelSeconds = fromNullFloat(estTravel)
	r.DestinationSource = trip.DestinationSource(destSource.String)

	if polyline.Valid && polyline.String != "" {
		var ls orb.LineString
		if err := json.Unmarshal([]byte(polyline.String), &ls); err != nil {
			return nil, err
		}
		r.Polyline = ls
	}

	return &r, nil
}

func scanJob(row scanner) (*trip.Job, error) {
	var (
		j               trip.Job
		address, client sql.NullString
		lat, lon        sql.NullFloat64
	)
	if err := row.Scan(&j.ID, &j.Name, &address, &lat, &lon, &client, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Address = address.String
	j.ClientName = client.String
	j.Coordinate = fromCoordColumns(lat, lon)
	return &j, nil
}

// nullIfEmpty converts an empty string to NULL.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// toNullTime stores a *time.Time as Unix nanoseconds.
func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func coordColumns(c *geo.Coordinate) (sql.NullFloat64, sql.NullFloat64) {
	if c == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lon, Valid: true}
}

func fromCoordColumns(lat, lon sql.NullFloat64) *geo.Coordinate {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
}
