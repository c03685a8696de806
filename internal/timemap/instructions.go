// internal/timemap/instructions.go
package timemap

import (
	"encoding/json"
	"fmt"
)

// Collection names the refresh feed addresses.
const (
	CollectionBookings   = "time_blocked"
	CollectionSelections = "time_selected"
	CollectionPrices     = "time_price"
	CollectionSettings   = "settings"
)

// InstructionSet is one refresh feed payload: per-verb maps from collection
// name to items. Payloads stay raw until the collection decides the type.
type InstructionSet struct {
	Set     map[string]json.RawMessage `json:"set,omitempty"`
	Add     map[string]json.RawMessage `json:"add,omitempty"`
	Update  map[string]json.RawMessage `json:"update,omitempty"`
	Delete  map[string]json.RawMessage `json:"delete,omitempty"`
	Remove  map[string]json.RawMessage `json:"remove,omitempty"`
	Refresh bool                       `json:"refresh,omitempty"`
}

// Empty reports whether the payload carries no work.
func (in InstructionSet) Empty() bool {
	return len(in.Set) == 0 && len(in.Add) == 0 && len(in.Update) == 0 &&
		len(in.Delete) == 0 && len(in.Remove) == 0 && !in.Refresh
}

// ApplyInstructions mutates the snapshot and selection set per the feed
// payload. Verbs run set, add, update, delete/remove, in that order. Unknown
// collections are skipped so old builds survive feed extensions. The return
// reports whether the feed demanded a full re-pull.
func ApplyInstructions(snapshot *Snapshot, selections *SelectionSet, instructions InstructionSet) (bool, error) {
	if err := applyVerb(snapshot, selections, "set", instructions.Set); err != nil {
		return false, err
	}
	if err := applyVerb(snapshot, selections, "add", instructions.Add); err != nil {
		return false, err
	}
	if err := applyVerb(snapshot, selections, "update", instructions.Update); err != nil {
		return false, err
	}
	if err := applyVerb(snapshot, selections, "delete", instructions.Delete); err != nil {
		return false, err
	}
	if err := applyVerb(snapshot, selections, "remove", instructions.Remove); err != nil {
		return false, err
	}
	return instructions.Refresh, nil
}

func applyVerb(snapshot *Snapshot, selections *SelectionSet, verb string, payload map[string]json.RawMessage) error {
	for collection, raw := range payload {
		var err error
		switch collection {
		case CollectionBookings:
			err = applyBookings(snapshot, verb, raw)
		case CollectionSelections:
			err = applySelections(selections, verb, raw)
		case CollectionPrices:
			err = applyPrices(snapshot, verb, raw)
		case CollectionSettings:
			err = applySettings(snapshot, verb, raw)
		}
		if err != nil {
			return fmt.Errorf("apply %s %s: %w", verb, collection, err)
		}
	}
	return nil
}

func applyBookings(snapshot *Snapshot, verb string, raw json.RawMessage) error {
	if verb == "delete" || verb == "remove" {
		var matchers []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &matchers); err != nil {
			return err
		}
		for _, matcher := range matchers {
			deleteBookings(snapshot, matcher)
		}
		return nil
	}

	var items []RawBooking
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	dayFrom := snapshot.Slots[0].From
	dayTo := snapshot.Slots[len(snapshot.Slots)-1].To

	bookings := make([]*Booking, 0, len(items))
	for _, item := range items {
		booking, err := normalizeBooking(snapshot, item, dayFrom, dayTo)
		if err != nil {
			return err
		}
		bookings = append(bookings, booking)
	}

	switch verb {
	case "set":
		snapshot.Bookings = bookings
	case "add":
		snapshot.Bookings = append(snapshot.Bookings, bookings...)
	case "update":
		for _, booking := range bookings {
			existing := findBooking(snapshot, booking.ID)
			if existing == nil {
				snapshot.Bookings = append(snapshot.Bookings, booking)
				continue
			}
			*existing = *booking
		}
	}
	return nil
}

// deleteBookings drops every booking whose fields equal all the fields the
// matcher lists. A matcher naming only an id deletes by id; one naming a
// court and time range deletes whatever sits there.
func deleteBookings(snapshot *Snapshot, matcher map[string]json.RawMessage) {
	kept := snapshot.Bookings[:0]
	for _, booking := range snapshot.Bookings {
		if !bookingMatches(booking, matcher) {
			kept = append(kept, booking)
		}
	}
	snapshot.Bookings = kept
}

func bookingMatches(booking *Booking, matcher map[string]json.RawMessage) bool {
	if len(matcher) == 0 {
		return false
	}
	encoded, err := json.Marshal(booking)
	if err != nil {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return false
	}
	// Feed matchers carry time fields as "HH:MM" strings, the same shape
	// bookings arrive in. Compare against that form, not the normalized one.
	if from, err := json.Marshal(booking.TimeFrom.Value); err == nil {
		fields["time_from"] = from
	}
	if to, err := json.Marshal(booking.TimeTo.Value); err == nil {
		fields["time_to"] = to
	}
	for key, want := range matcher {
		have, ok := fields[key]
		if !ok || !jsonEqual(have, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	var left, right any
	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return false
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func applySelections(selections *SelectionSet, verb string, raw json.RawMessage) error {
	var items []Selection
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	switch verb {
	case "set":
		selections.Clear()
		for _, item := range items {
			selections.Add(item)
		}
	case "add", "update":
		for _, item := range items {
			selections.Add(item)
		}
	case "delete", "remove":
		for _, item := range items {
			selections.Remove(item)
		}
	}
	return nil
}

func applyPrices(snapshot *Snapshot, verb string, raw json.RawMessage) error {
	if verb != "set" && verb != "update" {
		return fmt.Errorf("verb %q not supported for price tables", verb)
	}
	var tables [][]float64
	if err := json.Unmarshal(raw, &tables); err != nil {
		return err
	}
	for i, courtType := range snapshot.CourtTypes {
		if i < len(tables) {
			courtType.Price = tables[i]
		}
	}
	return nil
}

func applySettings(snapshot *Snapshot, verb string, raw json.RawMessage) error {
	if verb != "set" && verb != "update" {
		return fmt.Errorf("verb %q not supported for settings", verb)
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return err
	}
	snapshot.Settings = settings
	return nil
}
