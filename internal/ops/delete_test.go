package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/mileage/internal/errors"
)

func TestDelete(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	id := mustSave(t, database, continuousRecord(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)))

	out, err := Delete(ctx, database, DeleteInput{ID: id})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !out.Deleted || out.ID != id {
		t.Errorf("Delete = %+v", out)
	}

	if _, err := Fetch(ctx, database, FetchInput{ID: id}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Fetch after Delete error = %v, want NOT_FOUND", err)
	}
	if _, err := Delete(ctx, database, DeleteInput{ID: id}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second Delete error = %v, want NOT_FOUND", err)
	}
	if _, err := Delete(ctx, database, DeleteInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Delete(blank) error = %v, want INVALID_REQUEST", err)
	}
}
