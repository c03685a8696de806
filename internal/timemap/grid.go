// internal/timemap/grid.go
package timemap

import (
	"fmt"
	"time"
)

// Cell is one (court, slot) position for one build cycle. Cells never
// survive a rebuild; Group is an index into the owning grid's group arena.
type Cell struct {
	Index       int       `json:"index"`
	CourtID     int64     `json:"court_id"`
	CourtTypeID int64     `json:"court_type_id"`
	Slot        TimeSlot  `json:"slot"`
	BookingID   int64     `json:"ordertime_id,omitempty"`
	OrderID     int64     `json:"order_id,omitempty"`
	TypeID      int       `json:"type_id,omitempty"`
	Selected    bool      `json:"selected"`
	Ordered     bool      `json:"ordered"`
	Blocked     bool      `json:"blocked"`
	Editable    bool      `json:"editable"`
	Movable     bool      `json:"movable"`
	Past        bool      `json:"pasted"`
	Moved       bool      `json:"moved"`
	Group       int       `json:"group"`
}

// Group is a maximal run of contiguous same-state cells on one court:
// one booking, one jointly selected span, or a single free cell. Cells
// holds indices into the grid's cell arena, in slot order.
type Group struct {
	CourtID      int64     `json:"court_id"`
	CourtTypeID  int64     `json:"court_type_id"`
	BookingID    int64     `json:"ordertime_id,omitempty"`
	OrderID      int64     `json:"order_id,omitempty"`
	TypeID       int       `json:"type_id,omitempty"`
	TimeFrom     TimeOfDay `json:"time_from"`
	TimeTo       TimeOfDay `json:"time_to"`
	Selected     bool      `json:"selected"`
	Ordered      bool      `json:"ordered"`
	Blocked      bool      `json:"blocked"`
	Editable     bool      `json:"editable"`
	Movable      bool      `json:"movable"`
	TrainerColor string    `json:"trainer_color,omitempty"`
	Cells        []int     `json:"cells"`
}

// Hours returns the group's duration in hours.
func (g *Group) Hours() float64 {
	return float64(g.TimeTo.Seconds-g.TimeFrom.Seconds) / 3600
}

// CourtLane is one court's row of groups, in slot order.
type CourtLane struct {
	CourtID int64 `json:"court_id"`
	Number  int64 `json:"number"`
	Groups  []int `json:"groups"`
}

// ShelterLane renders one shelter's courts.
type ShelterLane struct {
	ID     int64       `json:"id"`
	Name   string      `json:"name"`
	Opened bool        `json:"opened"`
	Courts []CourtLane `json:"courts"`
}

// CourtTypeLane renders one court type's shelters.
type CourtTypeLane struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Shelters []ShelterLane `json:"inflates"`
}

// Grid is the full day model for one build cycle: flat cell and group
// arenas plus the court type tree that references them. It is rebuilt from
// scratch whenever the snapshot, the selection set, the clock, or the
// viewing type changes; two builds from equal inputs are identical.
type Grid struct {
	Date       string          `json:"date"`
	Cells      []Cell          `json:"cells"`
	Groups     []Group         `json:"groups"`
	CourtTypes []CourtTypeLane `json:"court_types"`

	courtCells map[int64][]int
}

// BuildGrid derives the day grid from the snapshot and the pending selection
// set. A booking always wins over a stale selection covering the same cell;
// the stale selection is removed from selections as a side effect. Two
// bookings claiming the same cell is a data error.
func BuildGrid(snapshot *Snapshot, selections *SelectionSet, now time.Time) (*Grid, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("build grid: nil snapshot")
	}
	if len(snapshot.Slots) == 0 {
		return nil, fmt.Errorf("build grid: empty slot list")
	}

	day, err := time.ParseInLocation("2006-01-02", snapshot.Date, now.Location())
	if err != nil {
		return nil, fmt.Errorf("build grid: invalid date %q: %w", snapshot.Date, err)
	}
	deadline := now.Add(snapshot.ClockOffset)

	bookingsByCourt := make(map[int64][]*Booking)
	for _, booking := range snapshot.Bookings {
		bookingsByCourt[booking.CourtID] = append(bookingsByCourt[booking.CourtID], booking)
	}

	grid := &Grid{
		Date:       snapshot.Date,
		courtCells: make(map[int64][]int),
	}
	firstSlot := snapshot.Slots[0]

	for _, courtType := range snapshot.CourtTypes {
		lane := CourtTypeLane{ID: courtType.ID, Name: courtType.Name}

		for _, shelter := range courtType.Shelters {
			shelterLane := ShelterLane{ID: shelter.ID, Name: shelter.Name, Opened: shelter.Opened}

			for _, court := range shelter.Courts {
				courtLane := CourtLane{CourtID: court.ID, Number: court.Number}
				openGroup := -1

				for _, slot := range snapshot.Slots {
					cell := Cell{
						Index:       (slot.From.Seconds - firstSlot.From.Seconds) / SlotSeconds,
						CourtID:     court.ID,
						CourtTypeID: courtType.ID,
						Slot:        slot,
					}

					booking, err := resolveBooking(bookingsByCourt[court.ID], slot)
					if err != nil {
						return nil, err
					}

					selection := Selection{CourtID: court.ID, TimeFrom: slot.From.Value, TimeTo: slot.To.Value}
					hasSelection := selections != nil && selections.Contains(selection)

					var trainerColor string
					if booking != nil {
						cell.BookingID = booking.ID
						cell.OrderID = booking.OrderID
						cell.TypeID = booking.TypeID
						cell.Ordered = true
						cell.Moved = booking.Moved()
						cell.Editable = booking.TypeID > editableTypeCutoff || snapshot.ViewingType < adminViewCutoff
						cell.Movable = snapshot.ViewingType < moveViewCutoff || !booking.Moved()
						trainerColor = booking.TrainerColor
						if hasSelection {
							selections.Remove(selection)
						}
					} else if hasSelection {
						cell.Selected = true
						cell.Editable = true
						cell.Movable = true
					}

					if snapshot.SeasonBooking {
						cell.Past = false
						cell.Blocked = cell.Selected
					} else {
						cell.Past = day.Add(time.Duration(slot.To.Seconds) * time.Second).Before(deadline)
						cell.Blocked = cell.Selected || cell.Ordered || (!snapshot.Admin && cell.Past)
					}

					if openGroup >= 0 {
						group := &grid.Groups[openGroup]
						if (cell.Ordered && cell.OrderID == group.OrderID && group.Ordered) ||
							(cell.Selected && group.Selected) {
							cell.Group = openGroup
							group.TimeTo = cell.Slot.To
							group.Movable = group.Movable && (snapshot.ViewingType < moveViewCutoff || !cell.Moved)
							group.Cells = append(group.Cells, len(grid.Cells))
							grid.courtCells[court.ID] = append(grid.courtCells[court.ID], len(grid.Cells))
							grid.Cells = append(grid.Cells, cell)
							continue
						}
					}

					openGroup = len(grid.Groups)
					cell.Group = openGroup
					grid.Groups = append(grid.Groups, Group{
						CourtID:      cell.CourtID,
						CourtTypeID:  cell.CourtTypeID,
						BookingID:    cell.BookingID,
						OrderID:      cell.OrderID,
						TypeID:       cell.TypeID,
						TimeFrom:     cell.Slot.From,
						TimeTo:       cell.Slot.To,
						Selected:     cell.Selected,
						Ordered:      cell.Ordered,
						Blocked:      cell.Blocked,
						Editable:     cell.Editable,
						Movable:      cell.Movable,
						TrainerColor: trainerColor,
						Cells:        []int{len(grid.Cells)},
					})
					courtLane.Groups = append(courtLane.Groups, openGroup)
					grid.courtCells[court.ID] = append(grid.courtCells[court.ID], len(grid.Cells))
					grid.Cells = append(grid.Cells, cell)
				}

				shelterLane.Courts = append(shelterLane.Courts, courtLane)
			}

			lane.Shelters = append(lane.Shelters, shelterLane)
		}

		grid.CourtTypes = append(grid.CourtTypes, lane)
	}

	return grid, nil
}

// resolveBooking finds the booking covering a slot. More than one match is a
// data error the build must not paper over.
func resolveBooking(bookings []*Booking, slot TimeSlot) (*Booking, error) {
	var found *Booking
	for _, booking := range bookings {
		if booking.TimeFrom.Seconds <= slot.From.Seconds && booking.TimeTo.Seconds >= slot.To.Seconds {
			if found != nil {
				return nil, fmt.Errorf(
					"bookings %d and %d both cover court %d slot %s-%s",
					found.ID, booking.ID, booking.CourtID, slot.From.Value, slot.To.Value,
				)
			}
			found = booking
		}
	}
	return found, nil
}

// CourtCells returns the court's cell indices in slot order.
func (g *Grid) CourtCells(courtID int64) []int {
	return g.courtCells[courtID]
}

// CellAt returns the cell at a court and day slot index, or nil.
func (g *Grid) CellAt(courtID int64, index int) *Cell {
	cells := g.courtCells[courtID]
	if index < 0 || index >= len(cells) {
		return nil
	}
	return &g.Cells[cells[index]]
}

// GroupOf returns the group owning a cell.
func (g *Grid) GroupOf(cell *Cell) *Group {
	if cell == nil || cell.Group < 0 || cell.Group >= len(g.Groups) {
		return nil
	}
	return &g.Groups[cell.Group]
}

// SelectedGroups lists every currently selected group, in lane order.
func (g *Grid) SelectedGroups() []*Group {
	var selected []*Group
	for i := range g.Groups {
		if g.Groups[i].Selected {
			selected = append(selected, &g.Groups[i])
		}
	}
	return selected
}
