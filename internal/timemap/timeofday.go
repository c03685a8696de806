// internal/timemap/timeofday.go
package timemap

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotSeconds is the fixed width of one grid slot.
const SlotSeconds = 1800

// TimeOfDay is a wall-clock time within the booked day. The wire format is
// "HH:MM"; comparisons use seconds since midnight.
type TimeOfDay struct {
	Seconds int    `json:"seconds"`
	Value   string `json:"value"`
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time value %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time value %q", value)
	}
	if hours < 0 || hours > 24 || minutes < 0 || minutes > 59 {
		return TimeOfDay{}, fmt.Errorf("time value %q out of range", value)
	}
	seconds := hours*3600 + minutes*60
	if seconds > 24*3600 {
		return TimeOfDay{}, fmt.Errorf("time value %q out of range", value)
	}
	return TimeOfDay{Seconds: seconds, Value: formatSeconds(seconds)}, nil
}

// TimeOfDayFromSeconds builds a TimeOfDay from seconds since midnight.
func TimeOfDayFromSeconds(seconds int) (TimeOfDay, error) {
	if seconds < 0 || seconds > 24*3600 {
		return TimeOfDay{}, fmt.Errorf("time offset %d out of range", seconds)
	}
	return TimeOfDay{Seconds: seconds, Value: formatSeconds(seconds)}, nil
}

func formatSeconds(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/3600, seconds%3600/60)
}

// IsZero reports whether t carries no value.
func (t TimeOfDay) IsZero() bool {
	return t.Value == "" && t.Seconds == 0
}

// Before reports whether t is earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Seconds < other.Seconds
}

// TimeSlot is one half-hour column of the day grid. The slot sequence is
// shared by every court on the page.
type TimeSlot struct {
	From TimeOfDay `json:"time_from"`
	To   TimeOfDay `json:"time_to"`
}

// SlotsBetween expands [from, to) into consecutive slots of SlotSeconds.
func SlotsBetween(from, to TimeOfDay) ([]TimeSlot, error) {
	if to.Seconds <= from.Seconds {
		return nil, fmt.Errorf("slot range %s-%s is empty", from.Value, to.Value)
	}
	if (to.Seconds-from.Seconds)%SlotSeconds != 0 {
		return nil, fmt.Errorf("slot range %s-%s is not aligned to %d seconds", from.Value, to.Value, SlotSeconds)
	}
	slots := make([]TimeSlot, 0, (to.Seconds-from.Seconds)/SlotSeconds)
	for seconds := from.Seconds; seconds < to.Seconds; seconds += SlotSeconds {
		start, err := TimeOfDayFromSeconds(seconds)
		if err != nil {
			return nil, err
		}
		end, err := TimeOfDayFromSeconds(seconds + SlotSeconds)
		if err != nil {
			return nil, err
		}
		slots = append(slots, TimeSlot{From: start, To: end})
	}
	return slots, nil
}
