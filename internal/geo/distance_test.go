package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

var samplePoints = []Coordinate{
	{Lat: 0, Lon: 0},
	{Lat: 53.5461, Lon: -113.4938}, // Edmonton
	{Lat: 51.0447, Lon: -114.0719}, // Calgary
	{Lat: 55.1707, Lon: -118.7947}, // Grande Prairie
	{Lat: -33.8688, Lon: 151.2093},
	{Lat: 89.9, Lon: 179.9},
	{Lat: -89.9, Lon: -179.9},
	{Lat: 56.7267, Lon: -111.3790}, // Fort McMurray
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	for _, a := range samplePoints {
		for _, b := range samplePoints {
			if DistanceMeters(a, b) != DistanceMeters(b, a) {
				t.Errorf("DistanceMeters(%v, %v) != DistanceMeters(%v, %v)", a, b, b, a)
			}
		}
	}
}

func TestDistanceMeters_ZeroIffEqual(t *testing.T) {
	for i, a := range samplePoints {
		if d := DistanceMeters(a, a); d != 0 {
			t.Errorf("DistanceMeters(a, a) = %v, want 0", d)
		}
		for j, b := range samplePoints {
			if i != j && DistanceMeters(a, b) <= 0 {
				t.Errorf("DistanceMeters(%v, %v) = 0 for distinct points", a, b)
			}
		}
	}
}

func TestDistanceMeters_TriangleInequality(t *testing.T) {
	for _, a := range samplePoints {
		for _, b := range samplePoints {
			for _, c := range samplePoints {
				ab := DistanceMeters(a, b)
				bc := DistanceMeters(b, c)
				ac := DistanceMeters(a, c)
				if ac > ab+bc+1e-6 {
					t.Errorf("triangle inequality violated: d(a,c)=%v > d(a,b)+d(b,c)=%v", ac, ab+bc)
				}
			}
		}
	}
}

func TestDistanceMeters_KnownDistance(t *testing.T) {
	// Edmonton to Calgary is roughly 280 km as the crow flies.
	d := DistanceMeters(samplePoints[1], samplePoints[2])
	if d < 275000 || d > 285000 {
		t.Errorf("Edmonton-Calgary = %v m, want ~280 km", d)
	}

	// One degree of latitude along a meridian.
	d = DistanceMeters(Coordinate{Lat: 0, Lon: 0}, Coordinate{Lat: 1, Lon: 0})
	want := EarthRadiusMeters * math.Pi / 180
	if math.Abs(d-want) > 1e-6 {
		t.Errorf("1 degree latitude = %v, want %v", d, want)
	}
}

func TestPathLengthMeters(t *testing.T) {
	if got := PathLengthMeters(nil); got != 0 {
		t.Errorf("PathLengthMeters(nil) = %v, want 0", got)
	}
	if got := PathLengthMeters(samplePoints[:1]); got != 0 {
		t.Errorf("PathLengthMeters(single) = %v, want 0", got)
	}

	path := []Coordinate{samplePoints[1], samplePoints[2], samplePoints[3]}
	want := DistanceMeters(path[0], path[1]) + DistanceMeters(path[1], path[2])
	if got := PathLengthMeters(path); got != want {
		t.Errorf("PathLengthMeters() = %v, want %v", got, want)
	}
}

func TestLineStringLengthMeters_MatchesPath(t *testing.T) {
	path := []Coordinate{samplePoints[1], samplePoints[2], samplePoints[3]}
	ls := orb.LineString{}
	for _, c := range path {
		ls = append(ls, c.Point())
	}
	if got, want := LineStringLengthMeters(ls), PathLengthMeters(path); got != want {
		t.Errorf("LineStringLengthMeters() = %v, want %v", got, want)
	}
}

func TestCoordinate_Valid(t *testing.T) {
	tests := []struct {
		c    Coordinate
		want bool
	}{
		{Coordinate{Lat: 53.5, Lon: -113.5}, true},
		{Coordinate{Lat: 90, Lon: 180}, true},
		{Coordinate{Lat: 90.1, Lon: 0}, false},
		{Coordinate{Lat: 0, Lon: -180.1}, false},
		{Coordinate{Lat: math.NaN(), Lon: 0}, false},
		{Coordinate{Lat: 0, Lon: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Valid(); got != tt.want {
			t.Errorf("Valid(%v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestPointRoundTrip(t *testing.T) {
	c := Coordinate{Lat: 53.5461, Lon: -113.4938}
	p := c.Point()
	if p[0] != c.Lon || p[1] != c.Lat {
		t.Errorf("Point() = %v, want lon/lat order", p)
	}
	if FromPoint(p) != c {
		t.Errorf("FromPoint(Point()) = %v, want %v", FromPoint(p), c)
	}
}
