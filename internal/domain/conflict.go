package domain

import "fmt"

// CheckInterval decides whether proposed can be booked against the live state
// of one provider-day. It returns ErrOutsideAvailability when no active window
// fully contains the interval and ErrSlotConflict when the interval overlaps an
// active break or a non-cancelled appointment. The window check runs first.
func CheckInterval(proposed Interval, windows []AvailabilityWindow, breaks []Break, busy []BusyInterval) error {
	inside := false
	for _, w := range windows {
		if w.IsActive && w.Interval().Contains(proposed) {
			inside = true
			break
		}
	}
	if !inside {
		return fmt.Errorf("%s: %w", proposed, ErrOutsideAvailability)
	}

	for _, b := range breaks {
		if b.IsActive && proposed.Overlaps(b.Interval()) {
			return fmt.Errorf("%s overlaps break %s: %w", proposed, b.Interval(), ErrSlotConflict)
		}
	}
	for _, b := range busy {
		if b.Blocking() && proposed.Overlaps(b.Interval()) {
			return fmt.Errorf("%s overlaps appointment %s: %w", proposed, b.Interval(), ErrSlotConflict)
		}
	}
	return nil
}
