package domain

import (
	"fmt"
	"time"
)

const DefaultCancellationNotice = 24 * time.Hour

// Lifecycle enforces legal appointment status transitions and the time based
// guards that go with them.
type Lifecycle struct {
	// Notice is the minimum time between now and the appointment start for a
	// cancellation to be accepted.
	Notice   time.Duration
	Location *time.Location
	Now      func() time.Time
}

func (l Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Lifecycle) notice() time.Duration {
	if l.Notice < 0 {
		return 0
	}
	return l.Notice
}

// Apply moves a to status to. Re-applying the current status is a no-op and
// reports changed=false. Cancellation goes through the same guard as Cancel.
func (l Lifecycle) Apply(a *Appointment, to Status) (changed bool, err error) {
	from := a.Status
	if from == to {
		return false, nil
	}
	if from.Terminal() {
		return false, fmt.Errorf("%s -> %s: %w", from, to, ErrTerminalStatus)
	}

	switch to {
	case StatusConfirmed:
		if from != StatusPending {
			return false, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
		}
	case StatusCompleted:
		// Not gated on the start time having passed.
	case StatusCancelled:
		if err := l.checkNotice(*a); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	a.Status = to
	return true, nil
}

// Cancel is the strict cancellation used by patients: cancelling something
// that is already terminal is an error, not a no-op.
func (l Lifecycle) Cancel(a *Appointment) error {
	if a.Status.Terminal() {
		return fmt.Errorf("cancel %s appointment: %w", a.Status, ErrTerminalStatus)
	}
	_, err := l.Apply(a, StatusCancelled)
	return err
}

// HoursUntilStart is fractional hours from now to the appointment start.
func (l Lifecycle) HoursUntilStart(a Appointment) float64 {
	return a.StartsAt(l.Location).Sub(l.now()).Hours()
}

func (l Lifecycle) checkNotice(a Appointment) error {
	until := a.StartsAt(l.Location).Sub(l.now())
	if until < l.notice() {
		return fmt.Errorf("starts in %s, notice is %s: %w", until.Truncate(time.Minute), l.notice(), ErrCancellationWindow)
	}
	return nil
}
