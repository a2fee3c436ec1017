package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"carebook/internal/domain"
)

// AvailabilityRepository returns a provider's recurring working windows for one
// weekday (0 = Sunday). Only active windows are returned.
type AvailabilityRepository interface {
	ListWindows(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.AvailabilityWindow, error)
}

// BreakRepository returns a provider's active breaks for one weekday.
type BreakRepository interface {
	ListBreaks(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.Break, error)
}

// BusyReader returns the non-cancelled appointment intervals of one
// provider-day ordered by start time.
type BusyReader interface {
	ListBusy(ctx context.Context, tenantID, providerID string, date time.Time) ([]domain.BusyInterval, error)
}

type ScheduleReader interface {
	AvailabilityRepository
	BreakRepository
}

type ScheduleRepository interface {
	ScheduleReader
	GetSchedule(ctx context.Context, tenantID, providerID string) (domain.WeeklySchedule, error)
	ReplaceSchedule(ctx context.Context, schedule domain.WeeklySchedule) (domain.WeeklySchedule, error)
}

type AppointmentRepository interface {
	BusyReader
	Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)

	// InProviderDayTransaction runs fn with every other writer of the same
	// (tenant, provider, date) excluded until fn returns.
	InProviderDayTransaction(ctx context.Context, tenantID, providerID string, date time.Time, fn func(ctx context.Context, tx BookingTx) error) error

	// Mutate loads the appointment under a row lock, lets fn change it and
	// persists the result when fn reports a change.
	Mutate(ctx context.Context, appointmentID uuid.UUID, fn func(appt *domain.Appointment) (bool, error)) (domain.Appointment, error)
}
