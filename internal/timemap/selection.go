// internal/timemap/selection.go
package timemap

import "fmt"

// SelectionSet holds the pending, uncommitted picks for the current day.
// Membership is by value; insertion order is preserved so grid builds and
// pricing walk selections deterministically.
type SelectionSet struct {
	items []Selection
	index map[Selection]struct{}
}

// NewSelectionSet returns an empty selection set.
func NewSelectionSet() *SelectionSet {
	return &SelectionSet{index: make(map[Selection]struct{})}
}

// Contains reports whether the exact pick is present.
func (s *SelectionSet) Contains(sel Selection) bool {
	_, ok := s.index[sel]
	return ok
}

// Add inserts a pick if not already present.
func (s *SelectionSet) Add(sel Selection) {
	if s.Contains(sel) {
		return
	}
	s.index[sel] = struct{}{}
	s.items = append(s.items, sel)
}

// Remove drops a pick if present.
func (s *SelectionSet) Remove(sel Selection) {
	if !s.Contains(sel) {
		return
	}
	delete(s.index, sel)
	for i, item := range s.items {
		if item == sel {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
}

// Clear drops every pick. Called when the viewed date changes.
func (s *SelectionSet) Clear() {
	s.items = nil
	s.index = make(map[Selection]struct{})
}

// Len returns the number of picks.
func (s *SelectionSet) Len() int {
	return len(s.items)
}

// Items returns a copy of the picks in insertion order.
func (s *SelectionSet) Items() []Selection {
	out := make([]Selection, len(s.items))
	copy(out, s.items)
	return out
}

func cellSelection(cell *Cell) Selection {
	return Selection{CourtID: cell.CourtID, TimeFrom: cell.Slot.From.Value, TimeTo: cell.Slot.To.Value}
}

// Click applies one click gesture to the selection set and reports whether
// anything changed. Clicks on booked cells are ignored, as are clicks on past
// cells unless the viewer is an admin. Admins toggle cells one at a time.
// Everyone else gets the pairing rules: a fresh click selects the cell plus a
// free neighbor (a single selected cell cannot be booked), a click next to an
// existing run extends it by one, and clicks inside a selected run peel cells
// off so that no single-cell remainder is left behind.
func Click(grid *Grid, snapshot *Snapshot, selections *SelectionSet, courtID int64, index int) (bool, error) {
	cell := grid.CellAt(courtID, index)
	if cell == nil {
		return false, fmt.Errorf("click: no cell at court %d index %d", courtID, index)
	}
	if cell.Ordered {
		return false, nil
	}
	if cell.Past && !snapshot.Admin {
		return false, nil
	}

	if snapshot.Admin {
		if cell.Selected {
			selections.Remove(cellSelection(cell))
		} else {
			selections.Add(cellSelection(cell))
		}
		return true, nil
	}

	if cell.Selected {
		return unselectFromRun(grid, selections, cell), nil
	}
	return selectWithNeighbor(grid, snapshot, selections, cell), nil
}

// unselectFromRun removes cells from the selected run the clicked cell
// belongs to. Small runs collapse entirely; clicks one cell in from either
// end of a longer run peel off two cells so the remainder stays bookable.
func unselectFromRun(grid *Grid, selections *SelectionSet, cell *Cell) bool {
	group := grid.GroupOf(cell)
	if group == nil {
		selections.Remove(cellSelection(cell))
		return true
	}

	position := -1
	for i, cellIndex := range group.Cells {
		if &grid.Cells[cellIndex] == cell {
			position = i
			break
		}
	}

	size := len(group.Cells)
	switch {
	case size < 3:
		for _, cellIndex := range group.Cells {
			selections.Remove(cellSelection(&grid.Cells[cellIndex]))
		}
	case position == 1 && size == 3:
		for _, cellIndex := range group.Cells {
			selections.Remove(cellSelection(&grid.Cells[cellIndex]))
		}
	case position == 1:
		selections.Remove(cellSelection(&grid.Cells[group.Cells[0]]))
		selections.Remove(cellSelection(&grid.Cells[group.Cells[1]]))
	case position == size-2:
		selections.Remove(cellSelection(&grid.Cells[group.Cells[size-2]]))
		selections.Remove(cellSelection(&grid.Cells[group.Cells[size-1]]))
	default:
		selections.Remove(cellSelection(cell))
	}
	return true
}

// selectWithNeighbor selects a free cell. Next to an existing selected run it
// joins as a single cell; otherwise it must bring a free neighbor along,
// preferring the next slot over the previous, or the click is a no-op.
func selectWithNeighbor(grid *Grid, snapshot *Snapshot, selections *SelectionSet, cell *Cell) bool {
	prev := grid.CellAt(cell.CourtID, cell.Index-1)
	next := grid.CellAt(cell.CourtID, cell.Index+1)

	if (prev != nil && prev.Selected) || (next != nil && next.Selected) {
		selections.Add(cellSelection(cell))
		return true
	}

	neighbor := next
	if !selectableNeighbor(neighbor, snapshot) {
		neighbor = prev
	}
	if !selectableNeighbor(neighbor, snapshot) {
		return false
	}

	selections.Add(cellSelection(cell))
	selections.Add(cellSelection(neighbor))
	return true
}

func selectableNeighbor(cell *Cell, snapshot *Snapshot) bool {
	if cell == nil || cell.Ordered || cell.Selected {
		return false
	}
	if cell.Past && !snapshot.Admin {
		return false
	}
	return true
}

// SelectRange selects every free, unblocked cell between two slot indices on
// one court, inclusive. Spans narrower than two cells are ignored so a stray
// drag cannot produce an unbookable single-cell pick.
func SelectRange(grid *Grid, snapshot *Snapshot, selections *SelectionSet, courtID int64, fromIndex, toIndex int) (bool, error) {
	if toIndex < fromIndex {
		fromIndex, toIndex = toIndex, fromIndex
	}
	if grid.CellAt(courtID, fromIndex) == nil || grid.CellAt(courtID, toIndex) == nil {
		return false, fmt.Errorf("select range: no cells at court %d indices %d-%d", courtID, fromIndex, toIndex)
	}
	if toIndex-fromIndex < 1 {
		return false, nil
	}

	changed := false
	for index := fromIndex; index <= toIndex; index++ {
		cell := grid.CellAt(courtID, index)
		if cell.Ordered || cell.Selected {
			continue
		}
		if cell.Past && !snapshot.Admin {
			continue
		}
		selections.Add(cellSelection(cell))
		changed = true
	}
	return changed, nil
}
