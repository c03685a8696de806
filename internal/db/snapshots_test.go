package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/courtmaster/timemap/internal/timemap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestSnapshotRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	raw := timemap.RawSnapshot{
		Date: "2026-05-11",
		Type: 1,
		TimeList: []timemap.RawSlot{
			{TimeFrom: "08:00", TimeTo: "08:30"},
			{TimeFrom: "08:30", TimeTo: "09:00"},
		},
		TimeBlocked: []timemap.RawBooking{
			{ID: 11, OrderID: 500, CourtID: 101, TypeID: 1, TimeFrom: "08:00", TimeTo: "09:00"},
		},
	}
	if err := database.SaveSnapshot(ctx, raw); err != nil {
		t.Fatalf("SaveSnapshot returned error: %v", err)
	}

	loaded, err := database.LoadSnapshot(ctx, "2026-05-11", 1)
	if err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if loaded.Date != raw.Date || len(loaded.TimeList) != 2 || len(loaded.TimeBlocked) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.TimeBlocked[0].ID != 11 {
		t.Errorf("booking = %+v, want id 11", loaded.TimeBlocked[0])
	}
}

func TestSaveSnapshot_Replaces(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	first := timemap.RawSnapshot{Date: "2026-05-11", Type: 1, Admin: 0}
	second := timemap.RawSnapshot{Date: "2026-05-11", Type: 1, Admin: 1}
	if err := database.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot returned error: %v", err)
	}
	if err := database.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("SaveSnapshot returned error: %v", err)
	}

	loaded, err := database.LoadSnapshot(ctx, "2026-05-11", 1)
	if err != nil {
		t.Fatalf("LoadSnapshot returned error: %v", err)
	}
	if loaded.Admin != 1 {
		t.Error("second save should overwrite the first")
	}
}

func TestLoadSnapshot_Missing(t *testing.T) {
	database := newTestDB(t)

	_, err := database.LoadSnapshot(context.Background(), "2026-01-01", 1)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestDeleteSnapshotsBefore(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for _, date := range []string{"2026-05-01", "2026-05-10", "2026-05-20"} {
		if err := database.SaveSnapshot(ctx, timemap.RawSnapshot{Date: date, Type: 1}); err != nil {
			t.Fatalf("SaveSnapshot returned error: %v", err)
		}
	}

	removed, err := database.DeleteSnapshotsBefore(ctx, "2026-05-11")
	if err != nil {
		t.Fatalf("DeleteSnapshotsBefore returned error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := database.LoadSnapshot(ctx, "2026-05-20", 1); err != nil {
		t.Errorf("newer snapshot should survive: %v", err)
	}
}

func TestTransitionAuditTrail(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	from, _ := timemap.ParseTimeOfDay("10:00")
	to, _ := timemap.ParseTimeOfDay("11:00")
	if err := database.RecordMove(ctx, "2026-05-11", &timemap.MoveCommand{
		BookingID: 11, OrderID: 500, CourtID: 102, TimeFrom: from, TimeTo: to,
	}); err != nil {
		t.Fatalf("RecordMove returned error: %v", err)
	}

	longer, _ := timemap.ParseTimeOfDay("12:00")
	if err := database.RecordStretch(ctx, "2026-05-11", &timemap.StretchCommand{
		BookingID: 11, OrderID: 500, TimeFrom: from, TimeTo: longer,
	}); err != nil {
		t.Fatalf("RecordStretch returned error: %v", err)
	}

	transitions, err := database.TransitionsForBooking(ctx, 11)
	if err != nil {
		t.Fatalf("TransitionsForBooking returned error: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("got %d transitions, want 2", len(transitions))
	}
	// Newest first.
	if transitions[0].Kind != "stretch" || transitions[1].Kind != "move" {
		t.Errorf("order = %s, %s, want stretch then move", transitions[0].Kind, transitions[1].Kind)
	}
	if !transitions[1].CourtID.Valid || transitions[1].CourtID.Int64 != 102 {
		t.Errorf("move court = %+v, want 102", transitions[1].CourtID)
	}
	if transitions[0].CourtID.Valid {
		t.Error("stretch should not record a court")
	}

	none, err := database.TransitionsForBooking(ctx, 999)
	if err != nil {
		t.Fatalf("TransitionsForBooking returned error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown booking should have no trail, got %d", len(none))
	}
}
