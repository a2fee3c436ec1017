package appointments

import (
	"context"
	"fmt"
	"time"

	"carebook/internal/domain"
	"carebook/internal/store"
)

// Proposal is a requested booking interval on one provider-day.
type Proposal struct {
	TenantID   string
	ProviderID string
	Date       time.Time
	Start      domain.Clock
	End        domain.Clock
}

func (p Proposal) Interval() domain.Interval {
	return domain.Interval{Start: p.Start, End: p.End}
}

// DayReader is what the validator needs from storage. Inside a booking it is
// the store.BookingTx of the provider-day transaction.
type DayReader interface {
	store.ScheduleReader
	store.BusyReader
}

// ConflictValidator checks a proposal against the current state of its
// provider-day. It never relies on slots computed earlier.
type ConflictValidator struct{}

// Validate returns nil when p can be booked, domain.ErrOutsideAvailability
// when no active window contains it, and domain.ErrSlotConflict when it
// overlaps a break or a live appointment.
func (ConflictValidator) Validate(ctx context.Context, src DayReader, p Proposal) error {
	if !p.Interval().Valid() {
		return validationError("end_time must be after start_time")
	}
	dow := domain.DayOfWeek(p.Date)

	windows, err := src.ListWindows(ctx, p.TenantID, p.ProviderID, dow)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	breaks, err := src.ListBreaks(ctx, p.TenantID, p.ProviderID, dow)
	if err != nil {
		return fmt.Errorf("list breaks: %w", err)
	}
	busy, err := src.ListBusy(ctx, p.TenantID, p.ProviderID, p.Date)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}

	return domain.CheckInterval(p.Interval(), windows, breaks, busy)
}
