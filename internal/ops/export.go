package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/mileage/internal/config"
	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/gpx"
	"github.com/hpungsan/mileage/internal/trip"
)

// Export formats.
const (
	FormatGPX     = "gpx"
	FormatGeoJSON = "geojson"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path   string // optional, default: ~/.mileage/exports/trips-<scope>-<timestamp>.<ext>
	Format string // gpx (default) or geojson
	ID     string // optional, export one trip
	Year   int    // optional, export one year
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes trip geometry to a GPX or GeoJSON file. Trips without any
// coordinates are skipped.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	format := strings.ToLower(strings.TrimSpace(input.Format))
	if format == "" {
		format = FormatGPX
	}
	if format != FormatGPX && format != FormatGeoJSON {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported export format %q (want gpx or geojson)", input.Format))
	}
	ext := "." + format

	now := time.Now()
	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(input, ext, now)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidatePath(exportPath, PathCheckWrite, cfg, ext); err != nil {
		return nil, err
	}

	records, err := exportRecords(ctx, database, input)
	if err != nil {
		return nil, err
	}

	var count int
	err = writeAtomic(exportPath, func(w io.Writer) error {
		var err error
		if format == FormatGPX {
			count, err = writeGPX(w, records, now)
		} else {
			count, err = writeGeoJSON(w, records)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Count:      count,
		ExportedAt: now.Unix(),
	}, nil
}

func exportRecords(ctx context.Context, database *sql.DB, input ExportInput) ([]*trip.Record, error) {
	if input.ID != "" {
		rec, err := db.GetTrip(ctx, database, input.ID)
		if err != nil {
			return nil, err
		}
		return []*trip.Record{rec}, nil
	}

	summaries, err := db.ListTrips(ctx, database, db.TripFilter{Year: input.Year, Chronological: true})
	if err != nil {
		return nil, err
	}
	records := make([]*trip.Record, 0, len(summaries))
	for _, s := range summaries {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("export")
		}
		rec, err := db.GetTrip(ctx, database, s.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func writeGPX(w io.Writer, records []*trip.Record, now time.Time) (int, error) {
	doc := &gpx.GPX{
		Version:  "1.1",
		Creator:  gpx.Creator,
		XMLNS:    gpx.Namespace,
		Metadata: &gpx.Metadata{Name: "mileage export", Time: &now},
	}
	for _, rec := range records {
		pts := exportPoints(rec)
		if len(pts) == 0 {
			continue
		}
		track := gpx.FromRoute(trackName(rec), pts, now).Tracks[0]
		track.Description = rec.Purpose
		doc.Tracks = append(doc.Tracks, track)
	}
	if err := doc.Encode(w); err != nil {
		return 0, errors.NewInternal(err)
	}
	return len(doc.Tracks), nil
}

func writeGeoJSON(w io.Writer, records []*trip.Record) (int, error) {
	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		if f := RecordFeature(rec); f != nil {
			fc.Append(f)
		}
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return 0, errors.NewInternal(err)
	}
	return len(fc.Features), nil
}

// exportPoints returns rec's geometry as timestamped points. Logged routes
// keep their own timestamps; derived geometry is stamped with the trip's
// start time, or its date.
func exportPoints(rec *trip.Record) []trip.RoutePoint {
	if len(rec.Route) > 0 {
		return rec.Route
	}
	stamp := rec.Date
	if rec.StartedAt != nil {
		stamp = *rec.StartedAt
	}
	line := RecordLine(rec)
	pts := make([]trip.RoutePoint, 0, len(line))
	for _, p := range line {
		pts = append(pts, trip.RoutePoint{Lat: p.Lat(), Lon: p.Lon(), Timestamp: stamp})
	}
	return pts
}

func trackName(rec *trip.Record) string {
	name := rec.Date.Format(DateLayout)
	if rec.EndName != "" {
		name += " " + rec.EndName
	}
	return name
}

// writeAtomic writes to a temp file beside path and renames it into place,
// leaving any existing file untouched on failure.
func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := write(file); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Close before rename; Windows refuses to rename open files.
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if isSymlink(path) {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

// defaultExportPath builds ~/.mileage/exports/trips-<scope>-<timestamp><ext>.
func defaultExportPath(input ExportInput, ext string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}

	scope := "all"
	switch {
	case input.ID != "":
		scope = SanitizeForFilename(input.ID)
	case input.Year != 0:
		scope = fmt.Sprintf("%d", input.Year)
	}

	filename := fmt.Sprintf("trips-%s-%s%s", scope, now.Format("2006-01-02T150405"), ext)
	return filepath.Join(dir, filename), nil
}
