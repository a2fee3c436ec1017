package domain

import "errors"

var (
	// ErrSlotConflict: the interval overlaps a break or a live appointment.
	ErrSlotConflict = errors.New("slot conflict")
	// ErrOutsideAvailability: the interval is not inside any active window.
	ErrOutsideAvailability = errors.New("outside provider availability")

	ErrTerminalStatus     = errors.New("appointment is already completed or cancelled")
	ErrCancellationWindow = errors.New("appointment starts within the cancellation notice window")
	ErrInvalidTransition  = errors.New("invalid status transition")
)
