// internal/db/snapshots.go
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courtmaster/timemap/internal/timemap"
)

// SaveSnapshot stores the last good upstream payload for a date and viewing
// type, replacing any previous one.
func (db *DB) SaveSnapshot(ctx context.Context, raw timemap.RawSnapshot) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO day_snapshots (date, viewing_type, payload, fetched_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (date, viewing_type) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at`,
		raw.Date, raw.Type, string(payload))
	if err != nil {
		return fmt.Errorf("save snapshot %s/%d: %w", raw.Date, raw.Type, err)
	}
	return nil
}

// LoadSnapshot returns the cached payload for a date and viewing type, or
// sql.ErrNoRows when the day was never fetched.
func (db *DB) LoadSnapshot(ctx context.Context, date string, viewingType int) (timemap.RawSnapshot, error) {
	var payload string
	err := db.QueryRowContext(ctx, `
		SELECT payload FROM day_snapshots
		WHERE date = ? AND viewing_type = ?`,
		date, viewingType).Scan(&payload)
	if err != nil {
		return timemap.RawSnapshot{}, err
	}

	var raw timemap.RawSnapshot
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return timemap.RawSnapshot{}, fmt.Errorf("decode snapshot %s/%d: %w", date, viewingType, err)
	}
	return raw, nil
}

// DeleteSnapshotsBefore drops cached days older than the cutoff date and
// returns how many were removed.
func (db *DB) DeleteSnapshotsBefore(ctx context.Context, cutoff string) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM day_snapshots WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return result.RowsAffected()
}

// Transition is one committed relocation, kept so staff can trace where a
// booking has been.
type Transition struct {
	ID          int64
	BookingID   int64
	OrderID     int64
	Kind        string
	Date        string
	CourtID     sql.NullInt64
	TimeFrom    string
	TimeTo      string
	CommittedAt time.Time
}

// RecordMove appends a committed move to the audit trail.
func (db *DB) RecordMove(ctx context.Context, date string, command *timemap.MoveCommand) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (booking_id, order_id, kind, date, court_id, time_from, time_to)
		VALUES (?, ?, 'move', ?, ?, ?, ?)`,
		command.BookingID, command.OrderID, date, command.CourtID,
		command.TimeFrom.Value, command.TimeTo.Value)
	if err != nil {
		return fmt.Errorf("record move of booking %d: %w", command.BookingID, err)
	}
	return nil
}

// RecordStretch appends a committed stretch to the audit trail.
func (db *DB) RecordStretch(ctx context.Context, date string, command *timemap.StretchCommand) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (booking_id, order_id, kind, date, time_from, time_to)
		VALUES (?, ?, 'stretch', ?, ?, ?)`,
		command.BookingID, command.OrderID, date,
		command.TimeFrom.Value, command.TimeTo.Value)
	if err != nil {
		return fmt.Errorf("record stretch of booking %d: %w", command.BookingID, err)
	}
	return nil
}

// TransitionsForBooking lists a booking's audit trail, newest first.
func (db *DB) TransitionsForBooking(ctx context.Context, bookingID int64) ([]Transition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, booking_id, order_id, kind, date, court_id, time_from, time_to, committed_at
		FROM transitions
		WHERE booking_id = ?
		ORDER BY id DESC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list transitions for booking %d: %w", bookingID, err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.BookingID, &t.OrderID, &t.Kind, &t.Date,
			&t.CourtID, &t.TimeFrom, &t.TimeTo, &t.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
