package domain

import (
	"errors"
	"testing"
	"time"
)

func appointmentAt(status Status, date time.Time, start string) Appointment {
	s := MustParseClock(start)
	return Appointment{
		TenantID:   "t1",
		ProviderID: "p1",
		PatientID:  "u1",
		Date:       date,
		StartTime:  s,
		EndTime:    s.Add(30),
		Status:     status,
	}
}

func fixedLifecycle(now time.Time) Lifecycle {
	return Lifecycle{
		Notice:   DefaultCancellationNotice,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}
}

func TestLifecycleCancel_NoticeBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := fixedLifecycle(now)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	exactly := appointmentAt(StatusConfirmed, date, "10:00")
	if err := l.Cancel(&exactly); err != nil {
		t.Fatalf("cancel at exactly 24h: %v", err)
	}
	if exactly.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", exactly.Status)
	}

	// 23h59m away.
	inside := appointmentAt(StatusConfirmed, date, "09:59")
	err := l.Cancel(&inside)
	if !errors.Is(err, ErrCancellationWindow) {
		t.Fatalf("cancel at 23h59m err = %v, want %v", err, ErrCancellationWindow)
	}
	if inside.Status != StatusConfirmed {
		t.Fatalf("status changed to %s on rejected cancel", inside.Status)
	}
}

func TestLifecycleCancel_UsesTenantLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}
	// 2026-03-01 15:00 UTC is 10:00 in New York (EST).
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	l := Lifecycle{Notice: DefaultCancellationNotice, Location: loc, Now: func() time.Time { return now }}

	a := appointmentAt(StatusPending, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), "10:00")
	if err := l.Cancel(&a); err != nil {
		t.Fatalf("cancel exactly 24h ahead in tenant zone: %v", err)
	}
}

func TestLifecycleCancel_TerminalStatusesFail(t *testing.T) {
	l := fixedLifecycle(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for _, st := range []Status{StatusCancelled, StatusCompleted} {
		a := appointmentAt(st, date, "10:00")
		if err := l.Cancel(&a); !errors.Is(err, ErrTerminalStatus) {
			t.Fatalf("cancel %s err = %v, want %v", st, err, ErrTerminalStatus)
		}
	}
}

func TestLifecycleApply(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := fixedLifecycle(now)
	future := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		from        Status
		to          Status
		date        time.Time
		wantChanged bool
		wantErr     error
	}{
		{name: "pending to confirmed", from: StatusPending, to: StatusConfirmed, date: future, wantChanged: true},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, date: future, wantChanged: true},
		{name: "confirmed to completed", from: StatusConfirmed, to: StatusCompleted, date: future, wantChanged: true},
		{name: "confirmed to cancelled", from: StatusConfirmed, to: StatusCancelled, date: future, wantChanged: true},
		{name: "cancel inside window", from: StatusPending, to: StatusCancelled, date: tomorrow, wantErr: ErrCancellationWindow},
		{name: "same status is no-op", from: StatusConfirmed, to: StatusConfirmed, date: future},
		{name: "cancelled again is no-op", from: StatusCancelled, to: StatusCancelled, date: future},
		{name: "confirmed back to pending", from: StatusConfirmed, to: StatusPending, date: future, wantErr: ErrInvalidTransition},
		{name: "completed to confirmed", from: StatusCompleted, to: StatusConfirmed, date: future, wantErr: ErrTerminalStatus},
		{name: "cancelled to pending", from: StatusCancelled, to: StatusPending, date: future, wantErr: ErrTerminalStatus},
		{name: "unknown status", from: StatusPending, to: Status("archived"), date: future, wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := appointmentAt(tt.from, tt.date, "09:00")
			changed, err := l.Apply(&a, tt.to)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if a.Status != tt.from {
					t.Fatalf("status mutated to %s on error", a.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if changed != tt.wantChanged {
				t.Fatalf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if a.Status != tt.to {
				t.Fatalf("status = %s, want %s", a.Status, tt.to)
			}
		})
	}
}

func TestCheckInterval(t *testing.T) {
	windows := []AvailabilityWindow{window("09:00", "12:00"), window("14:00", "17:00")}
	breaks := []Break{brk("10:00", "10:30")}
	appts := []BusyInterval{
		busy("11:00", "11:30", StatusConfirmed),
		busy("15:00", "15:30", StatusCancelled),
	}

	iv := func(s, e string) Interval {
		return Interval{Start: MustParseClock(s), End: MustParseClock(e)}
	}

	tests := []struct {
		name    string
		in      Interval
		wantErr error
	}{
		{name: "free", in: iv("09:00", "09:30")},
		{name: "abuts break", in: iv("09:30", "10:00")},
		{name: "overlaps break", in: iv("10:15", "10:45"), wantErr: ErrSlotConflict},
		{name: "overlaps appointment", in: iv("11:00", "11:30"), wantErr: ErrSlotConflict},
		{name: "cancelled appointment does not block", in: iv("15:00", "15:30")},
		{name: "spans the gap between windows", in: iv("11:30", "14:30"), wantErr: ErrOutsideAvailability},
		{name: "before opening", in: iv("08:30", "09:00"), wantErr: ErrOutsideAvailability},
		{name: "runs past closing", in: iv("16:45", "17:15"), wantErr: ErrOutsideAvailability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInterval(tt.in, windows, breaks, appts)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	inactive := window("18:00", "19:00")
	inactive.IsActive = false
	if err := CheckInterval(iv("18:00", "18:30"), []AvailabilityWindow{inactive}, nil, nil); !errors.Is(err, ErrOutsideAvailability) {
		t.Fatalf("inactive window err = %v, want %v", err, ErrOutsideAvailability)
	}
}
