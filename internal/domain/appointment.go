package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID   string    `bun:"tenant_id,notnull"`
	ProviderID string    `bun:"provider_id,notnull"`
	PatientID  string    `bun:"patient_id,notnull"`
	ServiceID  string    `bun:"service_id"`
	Date       time.Time `bun:"date,type:date,notnull"`
	StartTime  Clock     `bun:"start_time,type:time,notnull"`
	EndTime    Clock     `bun:"end_time,type:time,notnull"`
	Status     Status    `bun:"status,notnull"`
	Notes      string    `bun:"notes"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// StartsAt is the instant the appointment begins in the tenant's location.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return At(a.Date, a.StartTime, loc)
}

func (a Appointment) Busy() BusyInterval {
	return BusyInterval{Start: a.StartTime, End: a.EndTime, Status: a.Status}
}

// SameBooking reports whether b asks for the same thing as a, ignoring server
// assigned fields. Used to tell an idempotent replay from a reused key.
func (a Appointment) SameBooking(b Appointment) bool {
	return a.TenantID == b.TenantID &&
		a.ProviderID == b.ProviderID &&
		a.PatientID == b.PatientID &&
		a.ServiceID == b.ServiceID &&
		a.Date.Equal(b.Date) &&
		a.StartTime == b.StartTime &&
		a.EndTime == b.EndTime
}
