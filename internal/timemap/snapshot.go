// internal/timemap/snapshot.go
package timemap

import (
	"fmt"
	"time"
)

const (
	// Court types with an id below this threshold give every shelterless
	// court its own synthetic shelter; types at or above it share a single
	// synthetic "open" shelter per type.
	sharedOpenShelterTypeID = 3

	// syntheticShelterBase spaces per-type synthetic id ranges apart so
	// they never collide with real shelter ids or with each other.
	syntheticShelterBase = 1000

	openShelterName = "open"
)

// MalformedSnapshotError is a fatal normalization failure: the grid must not
// be built from a payload the normalizer cannot validate.
type MalformedSnapshotError struct {
	Reason    string
	BookingID int64
	CourtID   int64
}

func (e *MalformedSnapshotError) Error() string {
	if e.BookingID != 0 {
		return fmt.Sprintf("malformed snapshot: booking %d: %s", e.BookingID, e.Reason)
	}
	return fmt.Sprintf("malformed snapshot: %s", e.Reason)
}

// RawSlot is one entry of the day's slot list as the upstream sends it.
type RawSlot struct {
	TimeFrom string `json:"time_from"`
	TimeTo   string `json:"time_to"`
}

// RawCourt is a court as delivered inside its court type. A zero InflateID
// means the court has no real shelter.
type RawCourt struct {
	ID        int64 `json:"id"`
	Number    int64 `json:"number"`
	InflateID int64 `json:"inflate_id"`
}

// RawCourtType groups raw courts under one price table index.
type RawCourtType struct {
	ID     int64      `json:"id"`
	Name   string     `json:"name"`
	Courts []RawCourt `json:"courts"`
}

// RawShelter is a real shelter ("inflate") from the day payload.
type RawShelter struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RawBooking is an ordertime row from the day payload. Times are "HH:MM".
type RawBooking struct {
	ID           int64  `json:"id"`
	OrderID      int64  `json:"order_id"`
	CourtID      int64  `json:"court_id"`
	TypeID       int    `json:"type_id"`
	OrderTypeID  int    `json:"order_type_id"`
	TimeFrom     string `json:"time_from"`
	TimeTo       string `json:"time_to"`
	TrainerColor string `json:"trainer_color"`
	OrderColor   string `json:"color"`
	MovedAt      string `json:"moved_at"`
}

// RawSnapshot is the full day payload pulled from the upstream store.
type RawSnapshot struct {
	Date            string         `json:"date"`
	Type            int            `json:"type"`
	Admin           int            `json:"admin"`
	IsSeasonBooking bool           `json:"is_season_booking"`
	TimeList        []RawSlot      `json:"time_list"`
	TimePrice       [][]float64    `json:"time_price"`
	CourtTypes      []RawCourtType `json:"court_types"`
	Inflates        []RawShelter   `json:"inflates"`
	TimeBlocked     []RawBooking   `json:"time_blocked"`
	TimeSelected    []Selection    `json:"time_selected"`
	Settings        Settings       `json:"settings"`
	DiffSeconds     int            `json:"diff_time"`
}

// Normalize validates a raw day payload and produces the snapshot the grid
// builder consumes. Courts are partitioned into shelters, synthesizing one
// per shelterless court (or one shared "open" shelter for later court
// types), price tables are bound by court type index, and every booking is
// checked against the known courts and the day's slot range.
func Normalize(raw RawSnapshot) (*Snapshot, error) {
	if len(raw.TimeList) == 0 {
		return nil, &MalformedSnapshotError{Reason: "empty slot list"}
	}

	slots := make([]TimeSlot, 0, len(raw.TimeList))
	for i, rawSlot := range raw.TimeList {
		from, err := ParseTimeOfDay(rawSlot.TimeFrom)
		if err != nil {
			return nil, &MalformedSnapshotError{Reason: fmt.Sprintf("slot %d: %v", i, err)}
		}
		to, err := ParseTimeOfDay(rawSlot.TimeTo)
		if err != nil {
			return nil, &MalformedSnapshotError{Reason: fmt.Sprintf("slot %d: %v", i, err)}
		}
		if to.Seconds-from.Seconds != SlotSeconds {
			return nil, &MalformedSnapshotError{Reason: fmt.Sprintf("slot %d: width %ds, want %ds", i, to.Seconds-from.Seconds, SlotSeconds)}
		}
		if len(slots) > 0 && slots[len(slots)-1].To.Seconds != from.Seconds {
			return nil, &MalformedSnapshotError{Reason: fmt.Sprintf("slot %d: gap after %s", i, slots[len(slots)-1].To.Value)}
		}
		slots = append(slots, TimeSlot{From: from, To: to})
	}

	courtTypes := make([]*CourtType, 0, len(raw.CourtTypes))
	for typeIndex, rawType := range raw.CourtTypes {
		courtType := &CourtType{ID: rawType.ID, Name: rawType.Name}
		if typeIndex < len(raw.TimePrice) {
			courtType.Price = raw.TimePrice[typeIndex]
		}

		negative := -rawType.ID * syntheticShelterBase
		for _, rawCourt := range rawType.Courts {
			court := &Court{
				ID:          rawCourt.ID,
				Number:      rawCourt.Number,
				ShelterID:   rawCourt.InflateID,
				CourtTypeID: rawType.ID,
			}
			if court.ShelterID == 0 {
				if rawType.ID < sharedOpenShelterTypeID {
					court.ShelterID = negative
					negative--
				} else {
					court.ShelterID = negative
				}
			}

			shelter := findShelter(courtType.Shelters, court.ShelterID)
			if shelter == nil {
				shelter = resolveShelter(raw.Inflates, court.ShelterID)
				courtType.Shelters = append(courtType.Shelters, shelter)
			}
			shelter.Courts = append(shelter.Courts, court)
		}
		courtTypes = append(courtTypes, courtType)
	}

	snapshot := &Snapshot{
		Date:          raw.Date,
		ViewingType:   raw.Type,
		Admin:         raw.Admin == 1,
		SeasonBooking: raw.IsSeasonBooking,
		Slots:         slots,
		CourtTypes:    courtTypes,
		Settings:      raw.Settings,
		ClockOffset:   time.Duration(raw.DiffSeconds) * time.Second,
	}

	dayFrom := slots[0].From
	dayTo := slots[len(slots)-1].To
	for _, rawBooking := range raw.TimeBlocked {
		booking, err := normalizeBooking(snapshot, rawBooking, dayFrom, dayTo)
		if err != nil {
			return nil, err
		}
		snapshot.Bookings = append(snapshot.Bookings, booking)
	}

	return snapshot, nil
}

func normalizeBooking(snapshot *Snapshot, raw RawBooking, dayFrom, dayTo TimeOfDay) (*Booking, error) {
	if snapshot.CourtByID(raw.CourtID) == nil {
		return nil, &MalformedSnapshotError{
			Reason:    fmt.Sprintf("unknown court %d", raw.CourtID),
			BookingID: raw.ID,
			CourtID:   raw.CourtID,
		}
	}

	timeFrom, err := ParseTimeOfDay(raw.TimeFrom)
	if err != nil {
		return nil, &MalformedSnapshotError{Reason: err.Error(), BookingID: raw.ID, CourtID: raw.CourtID}
	}
	timeTo, err := ParseTimeOfDay(raw.TimeTo)
	if err != nil {
		return nil, &MalformedSnapshotError{Reason: err.Error(), BookingID: raw.ID, CourtID: raw.CourtID}
	}
	if timeTo.Seconds <= timeFrom.Seconds {
		return nil, &MalformedSnapshotError{
			Reason:    fmt.Sprintf("time range %s-%s is empty", timeFrom.Value, timeTo.Value),
			BookingID: raw.ID,
			CourtID:   raw.CourtID,
		}
	}
	if timeFrom.Seconds < dayFrom.Seconds || timeTo.Seconds > dayTo.Seconds {
		return nil, &MalformedSnapshotError{
			Reason:    fmt.Sprintf("time range %s-%s outside day %s-%s", timeFrom.Value, timeTo.Value, dayFrom.Value, dayTo.Value),
			BookingID: raw.ID,
			CourtID:   raw.CourtID,
		}
	}

	typeID := raw.TypeID
	if typeID == 0 {
		typeID = raw.OrderTypeID
	}

	return &Booking{
		ID:           raw.ID,
		OrderID:      raw.OrderID,
		CourtID:      raw.CourtID,
		TypeID:       typeID,
		TimeFrom:     timeFrom,
		TimeTo:       timeTo,
		TrainerColor: raw.TrainerColor,
		OrderColor:   raw.OrderColor,
		MovedAt:      raw.MovedAt,
	}, nil
}

func findShelter(shelters []*Shelter, shelterID int64) *Shelter {
	for _, shelter := range shelters {
		if shelter.ID == shelterID {
			return shelter
		}
	}
	return nil
}

func resolveShelter(known []RawShelter, shelterID int64) *Shelter {
	for _, shelter := range known {
		if shelter.ID == shelterID {
			return &Shelter{ID: shelter.ID, Name: shelter.Name}
		}
	}
	return &Shelter{ID: shelterID, Name: openShelterName, Opened: true}
}
