package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AvailabilityWindow is a recurring weekly span during which a provider takes
// bookings. A provider may have several windows on the same day.
type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID   string    `bun:"tenant_id,notnull"`
	ProviderID string    `bun:"provider_id,notnull"`
	DayOfWeek  int       `bun:"day_of_week,notnull"`
	StartTime  Clock     `bun:"start_time,type:time,notnull"`
	EndTime    Clock     `bun:"end_time,type:time,notnull"`
	IsActive   bool      `bun:"is_active,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (w AvailabilityWindow) Interval() Interval {
	return Interval{Start: w.StartTime, End: w.EndTime}
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &w.ID, &w.CreatedAt, &w.UpdatedAt)
}

// Break has the same shape as a window but removes time from it.
type Break struct {
	bun.BaseModel `bun:"table:provider_breaks"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID   string    `bun:"tenant_id,notnull"`
	ProviderID string    `bun:"provider_id,notnull"`
	DayOfWeek  int       `bun:"day_of_week,notnull"`
	StartTime  Clock     `bun:"start_time,type:time,notnull"`
	EndTime    Clock     `bun:"end_time,type:time,notnull"`
	IsActive   bool      `bun:"is_active,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (b Break) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

func (b *Break) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &b.ID, &b.CreatedAt, &b.UpdatedAt)
}

// WeeklySchedule is everything configured for one provider.
type WeeklySchedule struct {
	TenantID   string
	ProviderID string
	Windows    []AvailabilityWindow
	Breaks     []Break
}

// Validate checks every entry has a weekday in [0, 6] and start before end.
func (s WeeklySchedule) Validate() error {
	for i, w := range s.Windows {
		if err := validateEntry(w.DayOfWeek, w.Interval()); err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
	}
	for i, b := range s.Breaks {
		if err := validateEntry(b.DayOfWeek, b.Interval()); err != nil {
			return fmt.Errorf("breaks[%d]: %w", i, err)
		}
	}
	return nil
}

func validateEntry(dayOfWeek int, iv Interval) error {
	if !ValidDayOfWeek(dayOfWeek) {
		return fmt.Errorf("day_of_week %d out of range 0-6", dayOfWeek)
	}
	if !iv.Valid() {
		return fmt.Errorf("start_time %s must be before end_time %s", iv.Start, iv.End)
	}
	return nil
}

func stampModel(query bun.Query, id *uuid.UUID, createdAt, updatedAt *time.Time) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if *id == uuid.Nil {
			v, err := uuid.NewV7()
			if err != nil {
				return err
			}
			*id = v
		}
		if createdAt.IsZero() {
			*createdAt = now
		}
		if updatedAt.IsZero() {
			*updatedAt = now
		}
	case *bun.UpdateQuery:
		*updatedAt = now
	}
	return nil
}
