package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"carebook/internal/domain"
	"carebook/internal/idempotency"
	"carebook/internal/notify"
	"carebook/internal/observability/metrics"
	"carebook/internal/store"
)

const (
	minDurationMinutes = 5
	maxDurationMinutes = 480
	maxIdempotencyKey  = 256
)

var ErrForbidden = errors.New("forbidden")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// IdempotencyStore reserves a key for the first request carrying it. The
// value is a fingerprint of the booking; a later holder receives the first
// fingerprint back.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, value string) (bool, string, error)
	Release(ctx context.Context, key string) error
}

type Config struct {
	Location           *time.Location
	CancellationNotice time.Duration
	AutoConfirm        bool
	Logger             *slog.Logger
	Metrics            *metrics.BookingMetrics
	Now                func() time.Time
}

type Service struct {
	repo        store.AppointmentRepository
	validator   ConflictValidator
	lifecycle   domain.Lifecycle
	notifier    notify.Notifier
	idem        IdempotencyStore
	autoConfirm bool
	log         *slog.Logger
	metrics     *metrics.BookingMetrics
	now         func() time.Time
}

func NewService(repo store.AppointmentRepository, notifier notify.Notifier, idem IdempotencyStore, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "service.appointments"))
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	if idem == nil {
		idem = idempotency.Noop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notice := cfg.CancellationNotice
	if notice == 0 {
		notice = domain.DefaultCancellationNotice
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		repo:        repo,
		lifecycle:   domain.Lifecycle{Notice: notice, Location: loc, Now: now},
		notifier:    notifier,
		idem:        idem,
		autoConfirm: cfg.AutoConfirm,
		log:         log,
		metrics:     cfg.Metrics,
		now:         now,
	}
}

type BookInput struct {
	Principal  domain.Principal
	TenantID   string
	ProviderID string
	ServiceID  string
	Date       time.Time
	StartTime  domain.Clock
	// EndTime wins over DurationMinutes when set.
	EndTime         domain.Clock
	DurationMinutes int
	Notes           string
	// AutoConfirm overrides the service default when non-nil. Only provider
	// and admin callers may set it; a patient's value is ignored.
	AutoConfirm    *bool
	IdempotencyKey string
}

type BookResult struct {
	Appointment domain.Appointment
	// Replayed is set when an earlier request with the same idempotency key
	// already created the appointment.
	Replayed bool
}

func (s *Service) Book(ctx context.Context, in BookInput) (BookResult, error) {
	appt, err := s.bookingFromInput(in)
	if err != nil {
		s.metrics.ObserveBooking("invalid")
		return BookResult{}, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	release := func() {}
	if key != "" {
		if len(key) > maxIdempotencyKey {
			s.metrics.ObserveBooking("invalid")
			return BookResult{}, validationError("idempotency key too long")
		}
		scope := appt.TenantID + ":" + appt.PatientID + ":" + key
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("carebook:book:"+scope))

		if res, ok, err := s.replay(ctx, appt); err != nil || ok {
			return res, err
		}

		fingerprint := bookingFingerprint(appt)
		reserved, holder, err := s.idem.Reserve(ctx, scope, fingerprint)
		switch {
		case err != nil:
			s.log.Warn("idempotency reservation failed", slog.Any("err", err), slog.String("tenant_id", appt.TenantID))
		case !reserved && holder != fingerprint:
			s.metrics.ObserveBooking("conflict")
			return BookResult{}, store.ErrIdempotencyConflict
		case reserved:
			release = func() {
				if err := s.idem.Release(context.WithoutCancel(ctx), scope); err != nil {
					s.log.Warn("idempotency release failed", slog.Any("err", err))
				}
			}
		}
	}

	appt.CreatedAt = s.now().UTC()
	appt.UpdatedAt = appt.CreatedAt

	var (
		created  domain.Appointment
		inserted bool
	)
	err = s.repo.InProviderDayTransaction(ctx, appt.TenantID, appt.ProviderID, appt.Date, func(ctx context.Context, tx store.BookingTx) error {
		err := s.validator.Validate(ctx, tx, Proposal{
			TenantID:   appt.TenantID,
			ProviderID: appt.ProviderID,
			Date:       appt.Date,
			Start:      appt.StartTime,
			End:        appt.EndTime,
		})
		if err != nil {
			return err
		}
		created, inserted, err = tx.CreateAppointment(ctx, appt)
		return err
	})
	if err != nil {
		if key != "" && isConflict(err) {
			// A concurrent request with the same key may have won the slot.
			if res, ok, rErr := s.replay(ctx, appt); rErr == nil && ok {
				return res, nil
			}
		}
		release()
		s.observeBookingError(err, appt)
		return BookResult{}, err
	}

	// The store hands back the earlier row when the derived id already exists.
	if !inserted {
		s.metrics.ObserveBooking("replayed")
		return BookResult{Appointment: created, Replayed: true}, nil
	}

	s.metrics.ObserveBooking("created")
	s.log.Info(
		"appointment booked",
		slog.String("appointment_id", created.ID.String()),
		slog.String("tenant_id", created.TenantID),
		slog.String("provider_id", created.ProviderID),
		slog.String("date", domain.FormatDate(created.Date)),
		slog.String("start_time", created.StartTime.String()),
		slog.String("status", string(created.Status)),
	)
	s.publish(ctx, notify.EventCreated, created)
	return BookResult{Appointment: created}, nil
}

func (s *Service) bookingFromInput(in BookInput) (domain.Appointment, error) {
	patientID := strings.TrimSpace(in.Principal.UserID)
	if patientID == "" {
		return domain.Appointment{}, validationError("patient is required")
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return domain.Appointment{}, validationError("tenant_id is required")
	}
	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return domain.Appointment{}, validationError("doctor_id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("date is required")
	}
	if !in.StartTime.Valid() {
		return domain.Appointment{}, validationError("invalid start_time")
	}

	end := in.EndTime
	if end == 0 {
		if in.DurationMinutes == 0 {
			return domain.Appointment{}, validationError("end_time or duration_minutes is required")
		}
		end = in.StartTime.Add(in.DurationMinutes)
	}
	interval := domain.Interval{Start: in.StartTime, End: end}
	if !interval.Valid() {
		return domain.Appointment{}, validationError("end_time must be after start_time and no later than 24:00")
	}
	if m := interval.Minutes(); m < minDurationMinutes || m > maxDurationMinutes {
		return domain.Appointment{}, validationError(fmt.Sprintf("duration must be between %d and %d minutes", minDurationMinutes, maxDurationMinutes))
	}

	date := domain.DateOf(in.Date, time.UTC)
	if domain.At(date, in.StartTime, s.lifecycle.Location).Before(s.now()) {
		return domain.Appointment{}, validationError("cannot book a slot that has already started")
	}

	status := domain.StatusPending
	autoConfirm := s.autoConfirm
	if in.AutoConfirm != nil && canConfirm(in.Principal) {
		autoConfirm = *in.AutoConfirm
	}
	if autoConfirm {
		status = domain.StatusConfirmed
	}

	return domain.Appointment{
		TenantID:   tenantID,
		ProviderID: providerID,
		PatientID:  patientID,
		ServiceID:  strings.TrimSpace(in.ServiceID),
		Date:       date,
		StartTime:  in.StartTime,
		EndTime:    end,
		Status:     status,
		Notes:      strings.TrimSpace(in.Notes),
	}, nil
}

// replay answers a repeated idempotent booking from the stored row.
func (s *Service) replay(ctx context.Context, appt domain.Appointment) (BookResult, bool, error) {
	existing, err := s.repo.Get(ctx, appt.ID)
	if errors.Is(err, store.ErrNotFound) {
		return BookResult{}, false, nil
	}
	if err != nil {
		return BookResult{}, false, err
	}
	if !existing.SameBooking(appt) {
		s.metrics.ObserveBooking("conflict")
		return BookResult{}, false, store.ErrIdempotencyConflict
	}
	s.metrics.ObserveBooking("replayed")
	return BookResult{Appointment: existing, Replayed: true}, true, nil
}

func canConfirm(p domain.Principal) bool {
	return p.Role == domain.RoleProvider || p.Role == domain.RoleAdmin
}

func bookingFingerprint(a domain.Appointment) string {
	return strings.Join([]string{
		a.ProviderID,
		a.ServiceID,
		domain.FormatDate(a.Date),
		a.StartTime.String(),
		a.EndTime.String(),
	}, "|")
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, domain.ErrSlotConflict)
}

func (s *Service) observeBookingError(err error, appt domain.Appointment) {
	args := []any{
		slog.Any("err", err),
		slog.String("tenant_id", appt.TenantID),
		slog.String("provider_id", appt.ProviderID),
		slog.String("date", domain.FormatDate(appt.Date)),
		slog.String("start_time", appt.StartTime.String()),
	}
	switch {
	case isConflict(err), errors.Is(err, store.ErrIdempotencyConflict):
		s.metrics.ObserveBooking("conflict")
		s.log.Info("booking conflict", args...)
	case errors.Is(err, domain.ErrOutsideAvailability):
		s.metrics.ObserveBooking("invalid_window")
		s.log.Warn("booking outside availability", args...)
	default:
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			s.metrics.ObserveBooking("invalid")
			return
		}
		s.metrics.ObserveBooking("error")
		s.log.Error("booking failed", args...)
	}
}

// Get returns the appointment when the caller is its patient, its provider or
// an admin of its tenant.
func (s *Service) Get(ctx context.Context, p domain.Principal, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	a, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !canView(p, a) {
		return domain.Appointment{}, ErrForbidden
	}
	return a, nil
}

func canView(p domain.Principal, a domain.Appointment) bool {
	if p.Anonymous() {
		return false
	}
	if p.UserID == a.PatientID || p.UserID == a.ProviderID {
		return true
	}
	return p.Role == domain.RoleAdmin && p.TenantID == a.TenantID
}

// Cancel cancels an appointment on behalf of its patient. Only the patient may
// cancel this way, and only outside the cancellation notice window.
func (s *Service) Cancel(ctx context.Context, p domain.Principal, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	var from domain.Status
	a, err := s.repo.Mutate(ctx, appointmentID, func(a *domain.Appointment) (bool, error) {
		if p.Anonymous() || a.PatientID != p.UserID {
			return false, ErrForbidden
		}
		from = a.Status
		if err := s.lifecycle.Cancel(a); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.metrics.ObserveTransition(string(from), string(a.Status))
	s.log.Info(
		"appointment cancelled",
		slog.String("appointment_id", a.ID.String()),
		slog.String("tenant_id", a.TenantID),
		slog.String("from", string(from)),
	)
	s.publish(ctx, notify.EventCancelled, a)
	return a, nil
}

type StatusUpdate struct {
	AppointmentID uuid.UUID
	Status        string
	// Notes replaces the stored notes when non-nil.
	Notes *string
}

// UpdateStatus is the provider path: the caller must be providerID and the
// appointment must belong to that provider. Setting the current status again
// is accepted and publishes nothing.
func (s *Service) UpdateStatus(ctx context.Context, p domain.Principal, providerID string, in StatusUpdate) (domain.Appointment, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return domain.Appointment{}, validationError("doctor_id is required")
	}
	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointmentId is required")
	}
	to, ok := domain.ParseStatus(in.Status)
	if !ok {
		return domain.Appointment{}, validationError("status must be one of pending, confirmed, completed, cancelled")
	}
	if p.Anonymous() || p.UserID != providerID {
		return domain.Appointment{}, ErrForbidden
	}

	var from domain.Status
	var statusChanged bool
	a, err := s.repo.Mutate(ctx, in.AppointmentID, func(a *domain.Appointment) (bool, error) {
		if a.ProviderID != providerID {
			return false, store.ErrNotFound
		}
		from = a.Status
		changed, err := s.lifecycle.Apply(a, to)
		if err != nil {
			return false, err
		}
		statusChanged = changed
		if in.Notes != nil {
			notes := strings.TrimSpace(*in.Notes)
			if notes != a.Notes {
				a.Notes = notes
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	if statusChanged {
		s.metrics.ObserveTransition(string(from), string(a.Status))
		s.log.Info(
			"appointment status updated",
			slog.String("appointment_id", a.ID.String()),
			slog.String("tenant_id", a.TenantID),
			slog.String("from", string(from)),
			slog.String("to", string(a.Status)),
		)
		if ev, ok := notify.EventForStatus(a.Status); ok {
			s.publish(ctx, ev, a)
		}
	}
	return a, nil
}

// publish is fire-and-forget: failures are logged and counted, never
// returned.
func (s *Service) publish(ctx context.Context, t notify.EventType, a domain.Appointment) {
	if err := s.notifier.Notify(context.WithoutCancel(ctx), notify.NewEvent(t, a, s.now())); err != nil {
		s.metrics.ObserveNotificationFailure(string(t))
		s.log.Warn(
			"notification failed",
			slog.Any("err", err),
			slog.String("event", string(t)),
			slog.String("appointment_id", a.ID.String()),
		)
	}
}
