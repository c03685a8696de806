// internal/timemap/types.go
package timemap

import "time"

// Booking type codes as the upstream store encodes them.
const (
	TypeOnce          = 1
	TypeSeason        = 2
	TypeGroup         = 3
	TypeTourney       = 4
	TypeSeasonOnce    = 5
	TypePromo         = 6
	TypeTrainer       = 7
	TypeDeposit       = 8
	TypeClosed        = 9
	TypeClub          = 10
	TypeClubOnce      = 11
	TypeSeasonTrainer = 12
)

// Privilege cutoffs derived from type codes. A booking of a type above
// editableTypeCutoff may always be edited; a viewing type below
// adminViewCutoff edits anything; a viewing type below moveViewCutoff moves
// bookings regardless of their relocation history.
const (
	editableTypeCutoff = 3
	adminViewCutoff    = 4
	moveViewCutoff     = 2
)

// IsRecurringType reports whether a booking type repeats across dates and
// therefore needs remote availability validation before a move or stretch.
func IsRecurringType(typeID int) bool {
	switch typeID {
	case TypeSeason, TypeGroup, TypeSeasonOnce, TypeSeasonTrainer:
		return true
	}
	return false
}

// TypeColorName maps a booking type code to its settings color key.
func TypeColorName(typeID int) string {
	names := map[int]string{
		TypeOnce:          "once",
		TypeSeason:        "season",
		TypeGroup:         "group",
		TypeTourney:       "tourney",
		TypeSeasonOnce:    "season-once",
		TypePromo:         "stock",
		TypeTrainer:       "trainer",
		TypeDeposit:       "deposit",
		TypeClosed:        "closed",
		TypeClub:          "club",
		TypeClubOnce:      "club-once",
		TypeSeasonTrainer: "season-train",
	}
	return names[typeID]
}

// Court is one bookable resource for the day.
type Court struct {
	ID          int64 `json:"id"`
	Number      int64 `json:"number"`
	ShelterID   int64 `json:"inflate_id"`
	CourtTypeID int64 `json:"court_type_id"`
}

// Shelter groups courts under one covering bubble. Shelters with a negative
// id are synthesized for courts that declare none; those carry Opened.
type Shelter struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Opened bool     `json:"opened"`
	Courts []*Court `json:"courts"`
}

// CourtType is a category of courts sharing one per-slot price table.
type CourtType struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Price    []float64  `json:"price"`
	Shelters []*Shelter `json:"inflates"`
}

// Courts returns the type's courts across all shelters in shelter order.
func (ct *CourtType) Courts() []*Court {
	var courts []*Court
	for _, shelter := range ct.Shelters {
		courts = append(courts, shelter.Courts...)
	}
	return courts
}

// Booking is a persisted reservation ("ordertime") spanning one or more
// contiguous slots on one court. MovedAt is non-empty once the booking has
// been relocated at least once.
type Booking struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"order_id"`
	CourtID      int64     `json:"court_id"`
	TypeID       int       `json:"type_id"`
	TimeFrom     TimeOfDay `json:"time_from"`
	TimeTo       TimeOfDay `json:"time_to"`
	TrainerColor string    `json:"trainer_color,omitempty"`
	OrderColor   string    `json:"color,omitempty"`
	MovedAt      string    `json:"moved_at,omitempty"`
}

// Moved reports whether the booking has ever been relocated.
func (b *Booking) Moved() bool {
	return b.MovedAt != ""
}

// Selection is one pending, uncommitted user pick. It is keyed by value:
// two selections are the same pick iff court and both time strings match.
type Selection struct {
	CourtID  int64  `json:"court_id"`
	TimeFrom string `json:"time_from"`
	TimeTo   string `json:"time_to"`
}

// Settings carries the venue price/color tables and the per-type discount
// schedule delivered with the day payload.
type Settings struct {
	Colors    map[string]string  `json:"color"`
	Money     map[string]float64 `json:"money"`
	Discounts map[int]float64    `json:"discount"`
	Dates     int                `json:"dates"`
}

// DiscountForType resolves the discount multiplier for a booking type,
// defaulting to 1 when the schedule has no entry.
func (s Settings) DiscountForType(typeID int) float64 {
	if discount, ok := s.Discounts[typeID]; ok && discount > 0 {
		return discount
	}
	return 1
}

// Snapshot is the normalized day state every grid build reads from. Courts
// are partitioned into shelters inside CourtTypes; Bookings is the flat
// booking list the refresh feed mutates.
type Snapshot struct {
	Date          string
	ViewingType   int
	Admin         bool
	SeasonBooking bool
	Slots         []TimeSlot
	CourtTypes    []*CourtType
	Bookings      []*Booking
	Settings      Settings
	ClockOffset   time.Duration
}

// CourtByID finds a court anywhere in the court type tree.
func (s *Snapshot) CourtByID(courtID int64) *Court {
	for _, courtType := range s.CourtTypes {
		for _, shelter := range courtType.Shelters {
			for _, court := range shelter.Courts {
				if court.ID == courtID {
					return court
				}
			}
		}
	}
	return nil
}
