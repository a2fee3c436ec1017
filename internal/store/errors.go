package store

import "errors"

var (
	// ErrConflict is returned when a write would put a second live
	// appointment on an occupied (tenant, provider, date, start).
	ErrConflict = errors.New("slot already booked")
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// for a different booking.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different booking")
)
