package gpx

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/hpungsan/mileage/internal/trip"
)

// Creator is written into exported documents.
const Creator = "mileage"

// ParseFile reads a GPX document from disk.
func ParseFile(filename string) (*GPX, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader parses GPX from an io.Reader.
func ParseReader(r io.Reader) (*GPX, error) {
	decoder := xml.NewDecoder(r)

	var g GPX
	if err := decoder.Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	if g.XMLNS == "" {
		g.XMLNS = Namespace
	}
	if g.Version == "" {
		g.Version = "1.1"
	}
	return &g, nil
}

// Encode writes the document with an XML header.
func (g *GPX) Encode(w io.Writer) error {
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	if err := encoder.Encode(g); err != nil {
		return fmt.Errorf("failed to encode GPX: %w", err)
	}
	_, err := w.Write([]byte("\n"))
	return err
}

// Points returns every track point across tracks and segments in file order.
func (g *GPX) Points() []Point {
	var points []Point
	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			points = append(points, segment.Points...)
		}
	}
	return points
}

// Samples converts track points to location samples, ordered by time.
// Points without a timestamp are dropped. HDOP is scaled to an approximate
// accuracy radius; missing HDOP reports zero accuracy.
func (g *GPX) Samples() []trip.GeoSample {
	var samples []trip.GeoSample
	for _, p := range g.Points() {
		if p.Time.IsZero() {
			continue
		}
		s := trip.GeoSample{
			Lat:       p.Lat,
			Lon:       p.Lon,
			Altitude:  p.Elevation,
			Timestamp: p.Time.UTC(),
		}
		if p.HDOP != nil {
			s.Accuracy = *p.HDOP * hdopMeters
		}
		samples = append(samples, s)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples
}

// hdopMeters approximates user-equivalent range error for consumer receivers.
const hdopMeters = 5.0

// FromRoute builds a single-track document from a route.
func FromRoute(name string, route []trip.RoutePoint, created time.Time) *GPX {
	seg := TrackSegment{Points: make([]Point, 0, len(route))}
	for _, p := range route {
		seg.Points = append(seg.Points, Point{
			Lat:       p.Lat,
			Lon:       p.Lon,
			Elevation: p.Altitude,
			Time:      p.Timestamp.UTC(),
		})
	}

	created = created.UTC()
	return &GPX{
		Version:  "1.1",
		Creator:  Creator,
		XMLNS:    Namespace,
		Metadata: &Metadata{Name: name, Time: &created},
		Tracks: []Track{{
			Name:     name,
			Type:     "driving",
			Segments: []TrackSegment{seg},
		}},
	}
}
