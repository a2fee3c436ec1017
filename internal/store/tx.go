package store

import (
	"context"

	"carebook/internal/domain"
)

// BookingTx is the view of storage inside a provider-day transaction. Reads
// observe the locked state, so a check made through it cannot be invalidated
// by a concurrent booking before CreateAppointment runs.
type BookingTx interface {
	ScheduleReader
	BusyReader

	// CreateAppointment inserts appt and reports whether a new row was
	// written. A second live appointment at the same (tenant, provider, date,
	// start) yields ErrConflict. Re-inserting an existing id with identical
	// booking fields returns the stored row with inserted false; different
	// fields yield ErrIdempotencyConflict.
	CreateAppointment(ctx context.Context, appt domain.Appointment) (stored domain.Appointment, inserted bool, err error)
}
