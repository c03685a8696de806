// internal/timemap/drag.go
package timemap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrGestureInProgress is returned when a court already has a gesture
	// waiting on the remote validator.
	ErrGestureInProgress = errors.New("another gesture is in progress on this court")

	// ErrBlockedTarget is returned when a move or stretch would land on a
	// cell the viewer cannot take.
	ErrBlockedTarget = errors.New("target range is blocked")

	// ErrNotMovable is returned for groups the viewer may not relocate.
	ErrNotMovable = errors.New("group is not movable")

	// ErrNotEditable is returned for groups the viewer may not change.
	ErrNotEditable = errors.New("group is not editable")
)

// ProposedTime is the placement sent to the remote availability validator.
type ProposedTime struct {
	OrderID  int64  `json:"order_id"`
	Date     string `json:"date_at"`
	CourtID  int64  `json:"court_id"`
	TimeFrom string `json:"time_from"`
	TimeTo   string `json:"time_to"`
}

// ValidationResult is the validator's verdict. Dates lists the recurrence
// dates that conflict when Success is false.
type ValidationResult struct {
	Success bool     `json:"success"`
	Dates   []string `json:"dates"`
}

// Validator checks a proposed placement against every recurrence date of a
// seasonal booking before the gesture is allowed to land.
type Validator interface {
	ValidateFreeTime(ctx context.Context, proposed ProposedTime) (ValidationResult, error)
}

// ConflictError carries the recurrence dates that rejected a placement.
type ConflictError struct {
	Dates []string
}

func (e *ConflictError) Error() string {
	if len(e.Dates) == 0 {
		return "placement conflicts with existing bookings"
	}
	return fmt.Sprintf("placement conflicts on %s", strings.Join(e.Dates, ", "))
}

// MoveCommand is the upstream commit an accepted move of a persisted booking
// requires. Selected-only moves produce no command.
type MoveCommand struct {
	BookingID int64
	OrderID   int64
	CourtID   int64
	TimeFrom  TimeOfDay
	TimeTo    TimeOfDay
	Type      int
}

// StretchCommand is the upstream commit an accepted stretch of a persisted
// booking requires.
type StretchCommand struct {
	BookingID int64
	OrderID   int64
	TimeFrom  TimeOfDay
	TimeTo    TimeOfDay
	Type      int
}

// MoveRequest describes a move gesture: the grabbed cell and where it lands.
type MoveRequest struct {
	CourtID       int64
	Index         int
	TargetCourtID int64
	TargetIndex   int
}

// MoveResult reports what the gesture did. Changed is false for no-op
// gestures; Command is set when an upstream commit must follow.
type MoveResult struct {
	Command *MoveCommand
	Changed bool
}

// StretchRequest describes a stretch gesture: the grabbed edge cell of a
// group and the slot index the edge is dragged to.
type StretchRequest struct {
	CourtID     int64
	Index       int
	TargetIndex int
}

// StretchResult reports what the gesture did.
type StretchResult struct {
	Command *StretchCommand
	Changed bool
}

// Controller runs move and stretch gestures against one day's grid. Each
// court admits one gesture at a time; a second gesture arriving while the
// first is still waiting on the validator is rejected rather than queued.
type Controller struct {
	validator Validator
	now       func() time.Time

	mu   sync.Mutex
	busy map[int64]struct{}
}

// NewController builds a controller over the given validator.
func NewController(validator Validator) *Controller {
	return &Controller{
		validator: validator,
		now:       time.Now,
		busy:      make(map[int64]struct{}),
	}
}

func (c *Controller) acquire(courtID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.busy[courtID]; taken {
		return ErrGestureInProgress
	}
	c.busy[courtID] = struct{}{}
	return nil
}

func (c *Controller) release(courtID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, courtID)
}

// needsValidation decides whether a placement must survive the remote
// validator first. Pending selections validate whenever the page is in a
// seasonal mode; persisted bookings validate only when both the booking and
// the mode are seasonal.
func needsValidation(group *Group, viewingType int) bool {
	if group.Selected {
		return IsRecurringType(viewingType)
	}
	return IsRecurringType(group.TypeID) && IsRecurringType(viewingType)
}

// Move relocates a selected run or a persisted booking to another court
// and/or time. A zero displacement is a no-op. Every cell of the target
// range must be free for the viewer, not counting the cells the group
// itself occupies.
func (c *Controller) Move(ctx context.Context, grid *Grid, snapshot *Snapshot, selections *SelectionSet, req MoveRequest) (MoveResult, error) {
	cell := grid.CellAt(req.CourtID, req.Index)
	if cell == nil {
		return MoveResult{}, fmt.Errorf("move: no cell at court %d index %d", req.CourtID, req.Index)
	}
	group := grid.GroupOf(cell)
	if group == nil || (!group.Selected && !group.Ordered) {
		return MoveResult{}, fmt.Errorf("move: nothing to move at court %d index %d", req.CourtID, req.Index)
	}
	if !group.Editable {
		return MoveResult{}, ErrNotEditable
	}
	if !group.Movable {
		return MoveResult{}, ErrNotMovable
	}

	displacement := req.TargetIndex - req.Index
	if displacement == 0 && req.TargetCourtID == req.CourtID {
		return MoveResult{}, nil
	}

	shift := displacement * SlotSeconds
	newFrom, err := TimeOfDayFromSeconds(group.TimeFrom.Seconds + shift)
	if err != nil {
		return MoveResult{}, fmt.Errorf("move: %w", err)
	}
	newTo, err := TimeOfDayFromSeconds(group.TimeTo.Seconds + shift)
	if err != nil {
		return MoveResult{}, fmt.Errorf("move: %w", err)
	}

	firstIndex := grid.Cells[group.Cells[0]].Index
	for offset := range group.Cells {
		target := grid.CellAt(req.TargetCourtID, firstIndex+displacement+offset)
		if target == nil {
			return MoveResult{}, fmt.Errorf("move: target range %s-%s is outside the day", newFrom.Value, newTo.Value)
		}
		if target.Group == cell.Group {
			continue
		}
		if target.Blocked {
			return MoveResult{}, ErrBlockedTarget
		}
	}

	if needsValidation(group, snapshot.ViewingType) {
		if err := c.acquire(req.CourtID); err != nil {
			return MoveResult{}, err
		}
		defer c.release(req.CourtID)

		result, err := c.validator.ValidateFreeTime(ctx, ProposedTime{
			OrderID:  group.OrderID,
			Date:     snapshot.Date,
			CourtID:  req.TargetCourtID,
			TimeFrom: newFrom.Value,
			TimeTo:   newTo.Value,
		})
		if err != nil {
			return MoveResult{}, fmt.Errorf("move: validate placement: %w", err)
		}
		if !result.Success {
			return MoveResult{}, &ConflictError{Dates: result.Dates}
		}
	}

	if group.Selected {
		if err := c.moveSelections(grid, selections, group, req.TargetCourtID, newFrom, newTo); err != nil {
			return MoveResult{}, err
		}
		return MoveResult{Changed: true}, nil
	}

	return MoveResult{
		Changed: true,
		Command: &MoveCommand{
			BookingID: group.BookingID,
			OrderID:   group.OrderID,
			CourtID:   req.TargetCourtID,
			TimeFrom:  newFrom,
			TimeTo:    newTo,
			Type:      snapshot.ViewingType,
		},
	}, nil
}

func (c *Controller) moveSelections(grid *Grid, selections *SelectionSet, group *Group, targetCourtID int64, newFrom, newTo TimeOfDay) error {
	slots, err := SlotsBetween(newFrom, newTo)
	if err != nil {
		return fmt.Errorf("move: %w", err)
	}
	for _, cellIndex := range group.Cells {
		selections.Remove(cellSelection(&grid.Cells[cellIndex]))
	}
	for _, slot := range slots {
		selections.Add(Selection{CourtID: targetCourtID, TimeFrom: slot.From.Value, TimeTo: slot.To.Value})
	}
	return nil
}

// Stretch grows or shrinks a group by dragging its first or last cell to a
// new slot index. Growth must land on free cells; shrinking may not reduce a
// selected run to a single cell nor a booking to nothing.
func (c *Controller) Stretch(ctx context.Context, grid *Grid, snapshot *Snapshot, selections *SelectionSet, req StretchRequest) (StretchResult, error) {
	cell := grid.CellAt(req.CourtID, req.Index)
	if cell == nil {
		return StretchResult{}, fmt.Errorf("stretch: no cell at court %d index %d", req.CourtID, req.Index)
	}
	group := grid.GroupOf(cell)
	if group == nil || (!group.Selected && !group.Ordered) {
		return StretchResult{}, fmt.Errorf("stretch: nothing to stretch at court %d index %d", req.CourtID, req.Index)
	}
	if !group.Editable {
		return StretchResult{}, ErrNotEditable
	}
	if !group.Movable {
		return StretchResult{}, ErrNotMovable
	}

	firstIndex := grid.Cells[group.Cells[0]].Index
	lastIndex := grid.Cells[group.Cells[len(group.Cells)-1]].Index

	target := grid.CellAt(req.CourtID, req.TargetIndex)
	if target == nil {
		return StretchResult{}, fmt.Errorf("stretch: no cell at court %d index %d", req.CourtID, req.TargetIndex)
	}

	var newFrom, newTo TimeOfDay
	switch req.Index {
	case lastIndex:
		newFrom, newTo = group.TimeFrom, target.Slot.To
	case firstIndex:
		newFrom, newTo = target.Slot.From, group.TimeTo
	default:
		return StretchResult{}, fmt.Errorf("stretch: cell at index %d is not an edge of its group", req.Index)
	}

	if newFrom == group.TimeFrom && newTo == group.TimeTo {
		return StretchResult{}, nil
	}
	if newTo.Seconds <= newFrom.Seconds {
		return StretchResult{}, fmt.Errorf("stretch: range %s-%s is empty", newFrom.Value, newTo.Value)
	}

	newWidth := (newTo.Seconds - newFrom.Seconds) / SlotSeconds
	if group.Selected && newWidth < 2 {
		return StretchResult{}, fmt.Errorf("stretch: a selection cannot shrink below two cells")
	}

	growing := newWidth > len(group.Cells)
	if growing {
		for index := req.TargetIndex; ; {
			if req.Index == lastIndex && index <= lastIndex {
				break
			}
			if req.Index == firstIndex && index >= firstIndex {
				break
			}
			grown := grid.CellAt(req.CourtID, index)
			if grown == nil {
				return StretchResult{}, fmt.Errorf("stretch: target range %s-%s is outside the day", newFrom.Value, newTo.Value)
			}
			if grown.Blocked {
				return StretchResult{}, ErrBlockedTarget
			}
			if req.Index == lastIndex {
				index--
			} else {
				index++
			}
		}

		if needsValidation(group, snapshot.ViewingType) {
			if err := c.acquire(req.CourtID); err != nil {
				return StretchResult{}, err
			}
			defer c.release(req.CourtID)

			result, err := c.validator.ValidateFreeTime(ctx, ProposedTime{
				OrderID:  group.OrderID,
				Date:     snapshot.Date,
				CourtID:  req.CourtID,
				TimeFrom: newFrom.Value,
				TimeTo:   newTo.Value,
			})
			if err != nil {
				return StretchResult{}, fmt.Errorf("stretch: validate placement: %w", err)
			}
			if !result.Success {
				return StretchResult{}, &ConflictError{Dates: result.Dates}
			}
		}
	}

	if group.Selected {
		if err := c.moveSelections(grid, selections, group, req.CourtID, newFrom, newTo); err != nil {
			return StretchResult{}, err
		}
		return StretchResult{Changed: true}, nil
	}

	return StretchResult{
		Changed: true,
		Command: &StretchCommand{
			BookingID: group.BookingID,
			OrderID:   group.OrderID,
			TimeFrom:  newFrom,
			TimeTo:    newTo,
			Type:      snapshot.ViewingType,
		},
	}, nil
}

// ApplyMove mutates the snapshot after a move command was committed
// upstream. The booking is stamped as relocated.
func (c *Controller) ApplyMove(snapshot *Snapshot, command *MoveCommand) error {
	booking := findBooking(snapshot, command.BookingID)
	if booking == nil {
		return fmt.Errorf("apply move: booking %d not in snapshot", command.BookingID)
	}
	booking.CourtID = command.CourtID
	booking.TimeFrom = command.TimeFrom
	booking.TimeTo = command.TimeTo
	booking.MovedAt = c.now().Format("2006-01-02 15:04:05")
	return nil
}

// ApplyStretch mutates the snapshot after a stretch command was committed
// upstream.
func (c *Controller) ApplyStretch(snapshot *Snapshot, command *StretchCommand) error {
	booking := findBooking(snapshot, command.BookingID)
	if booking == nil {
		return fmt.Errorf("apply stretch: booking %d not in snapshot", command.BookingID)
	}
	booking.TimeFrom = command.TimeFrom
	booking.TimeTo = command.TimeTo
	return nil
}

func findBooking(snapshot *Snapshot, bookingID int64) *Booking {
	for _, booking := range snapshot.Bookings {
		if booking.ID == bookingID {
			return booking
		}
	}
	return nil
}
