// internal/api/grid/integration_test.go
package grid

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/courtmaster/timemap/internal/testutil"
	"github.com/courtmaster/timemap/internal/timemap"
)

// Exercises the handler against a real SQLite store instead of the fakes:
// a fetched day lands in the cache, a committed move lands in the audit
// trail, and a fresh handler serves the cached day when the backend is down.
func TestHandler_SQLiteStore(t *testing.T) {
	database := testutil.NewTestDB(t)

	backend := &fakeBackend{raw: testRaw(), validation: timemap.ValidationResult{Success: true}}
	handler := New(backend, database, "courts.example.com", timemap.TrainerCarveOut{})
	handler.now = func() time.Time {
		return time.Date(2026, time.May, 11, 8, 0, 0, 0, time.UTC)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/timemap?date=2026-05-11&type=1", nil)
	w := httptest.NewRecorder()
	handler.HandleGrid(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("grid status = %d, body %s", w.Code, w.Body.String())
	}

	loaded, err := database.LoadSnapshot(r.Context(), "2026-05-11", 1)
	if err != nil {
		t.Fatalf("fetched day was not cached: %v", err)
	}
	if len(loaded.TimeBlocked) != 1 {
		t.Errorf("cached bookings = %d, want 1", len(loaded.TimeBlocked))
	}

	w = postJSON(t, handler.HandleMove, "/api/v1/timemap/move", map[string]any{
		"date": "2026-05-11", "type": 1,
		"court_id": 101, "index": 2,
		"target_court_id": 102, "target_index": 2,
	})
	resp := decodeGrid(t, w)
	if !resp.Changed {
		t.Fatal("move to another court should change state")
	}

	transitions, err := database.TransitionsForBooking(r.Context(), 11)
	if err != nil {
		t.Fatalf("TransitionsForBooking returned error: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("transitions = %d, want 1", len(transitions))
	}
	if transitions[0].Kind != "move" || transitions[0].CourtID.Int64 != 102 {
		t.Errorf("transition = %+v, want move to court 102", transitions[0])
	}

	// A new handler with the backend unreachable serves the cached day.
	backend.fetchErr = errors.New("upstream down")
	fallback := New(backend, database, "courts.example.com", timemap.TrainerCarveOut{})
	fallback.now = handler.now

	r = httptest.NewRequest(http.MethodGet, "/api/v1/timemap?date=2026-05-11&type=1", nil)
	w = httptest.NewRecorder()
	fallback.HandleGrid(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("cached grid status = %d, body %s", w.Code, w.Body.String())
	}
	grid := decodeGrid(t, w)
	if len(grid.Grid.Cells) != 16 {
		t.Errorf("cached grid cells = %d, want 16", len(grid.Grid.Cells))
	}
}
