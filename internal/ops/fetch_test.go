package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
)

func TestFetch_WithRoute(t *testing.T) {
	database := openTestDB(t)
	id := mustSave(t, database, continuousRecord(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)))

	out, err := Fetch(context.Background(), database, FetchInput{ID: id})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if out.ID != id {
		t.Errorf("ID = %q, want %q", out.ID, id)
	}
	if out.RoutePoints != 3 || len(out.Route) != 3 {
		t.Errorf("RoutePoints = %d, len(Route) = %d; want 3", out.RoutePoints, len(out.Route))
	}
	if out.EndName != "Depot" {
		t.Errorf("EndName = %q, want Depot", out.EndName)
	}
	if out.EffectiveDistanceMeters != out.DistanceMeters {
		t.Errorf("EffectiveDistanceMeters = %v, want %v", out.EffectiveDistanceMeters, out.DistanceMeters)
	}
}

func TestFetch_WithoutRoute(t *testing.T) {
	database := openTestDB(t)
	id := mustSave(t, database, continuousRecord(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)))

	out, err := Fetch(context.Background(), database, FetchInput{ID: id, IncludeRoute: boolPtr(false)})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if out.Route != nil {
		t.Errorf("Route = %d points, want nil", len(out.Route))
	}
	if out.RoutePoints != 3 {
		t.Errorf("RoutePoints = %d, want 3", out.RoutePoints)
	}
}

func TestFetch_Errors(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	if _, err := Fetch(ctx, database, FetchInput{ID: "  "}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Fetch(blank) error = %v, want INVALID_REQUEST", err)
	}
	if _, err := Fetch(ctx, database, FetchInput{ID: "01MISSING"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want NOT_FOUND", err)
	}
}
