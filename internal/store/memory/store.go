// Package memory is an in-process implementation of the store interfaces. It
// rejects overlapping live appointments the same way the Postgres schema does
// and backs storage.driver=memory as well as tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carebook/internal/domain"
	"carebook/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	windows      []domain.AvailabilityWindow
	breaks       []domain.Break
	appointments map[uuid.UUID]domain.Appointment

	locksMu  sync.Mutex
	dayLocks map[string]*sync.Mutex
}

var (
	_ store.ScheduleRepository    = (*Store)(nil)
	_ store.AppointmentRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		appointments: make(map[uuid.UUID]domain.Appointment),
		dayLocks:     make(map[string]*sync.Mutex),
	}
}

func (s *Store) AddWindow(w domain.AvailabilityWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	s.windows = append(s.windows, w)
}

func (s *Store) AddBreak(b domain.Break) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.breaks = append(s.breaks, b)
}

// PutAppointment stores a without any checks. Test seeding only.
func (s *Store) PutAppointment(a domain.Appointment) domain.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.appointments[a.ID] = a
	return a
}

func (s *Store) ListWindows(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWindowsLocked(tenantID, providerID, dayOfWeek), nil
}

func (s *Store) listWindowsLocked(tenantID, providerID string, dayOfWeek int) []domain.AvailabilityWindow {
	out := make([]domain.AvailabilityWindow, 0)
	for _, w := range s.windows {
		if w.TenantID == tenantID && w.ProviderID == providerID && w.DayOfWeek == dayOfWeek && w.IsActive {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (s *Store) ListBreaks(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.Break, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBreaksLocked(tenantID, providerID, dayOfWeek), nil
}

func (s *Store) listBreaksLocked(tenantID, providerID string, dayOfWeek int) []domain.Break {
	out := make([]domain.Break, 0)
	for _, b := range s.breaks {
		if b.TenantID == tenantID && b.ProviderID == providerID && b.DayOfWeek == dayOfWeek && b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (s *Store) GetSchedule(ctx context.Context, tenantID, providerID string) (domain.WeeklySchedule, error) {
	if err := ctx.Err(); err != nil {
		return domain.WeeklySchedule{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := domain.WeeklySchedule{TenantID: tenantID, ProviderID: providerID}
	for _, w := range s.windows {
		if w.TenantID == tenantID && w.ProviderID == providerID {
			out.Windows = append(out.Windows, w)
		}
	}
	for _, b := range s.breaks {
		if b.TenantID == tenantID && b.ProviderID == providerID {
			out.Breaks = append(out.Breaks, b)
		}
	}
	sort.Slice(out.Windows, func(i, j int) bool {
		return scheduleLess(out.Windows[i].DayOfWeek, out.Windows[i].StartTime, out.Windows[j].DayOfWeek, out.Windows[j].StartTime)
	})
	sort.Slice(out.Breaks, func(i, j int) bool {
		return scheduleLess(out.Breaks[i].DayOfWeek, out.Breaks[i].StartTime, out.Breaks[j].DayOfWeek, out.Breaks[j].StartTime)
	})
	return out, nil
}

func scheduleLess(dayA int, startA domain.Clock, dayB int, startB domain.Clock) bool {
	if dayA != dayB {
		return dayA < dayB
	}
	return startA < startB
}

func (s *Store) ReplaceSchedule(ctx context.Context, schedule domain.WeeklySchedule) (domain.WeeklySchedule, error) {
	if err := ctx.Err(); err != nil {
		return domain.WeeklySchedule{}, err
	}
	s.mu.Lock()
	keptWindows := s.windows[:0:0]
	for _, w := range s.windows {
		if w.TenantID != schedule.TenantID || w.ProviderID != schedule.ProviderID {
			keptWindows = append(keptWindows, w)
		}
	}
	keptBreaks := s.breaks[:0:0]
	for _, b := range s.breaks {
		if b.TenantID != schedule.TenantID || b.ProviderID != schedule.ProviderID {
			keptBreaks = append(keptBreaks, b)
		}
	}
	now := time.Now().UTC()
	for _, w := range schedule.Windows {
		w.ID, w.TenantID, w.ProviderID = uuid.New(), schedule.TenantID, schedule.ProviderID
		w.CreatedAt, w.UpdatedAt = now, now
		keptWindows = append(keptWindows, w)
	}
	for _, b := range schedule.Breaks {
		b.ID, b.TenantID, b.ProviderID = uuid.New(), schedule.TenantID, schedule.ProviderID
		b.CreatedAt, b.UpdatedAt = now, now
		keptBreaks = append(keptBreaks, b)
	}
	s.windows, s.breaks = keptWindows, keptBreaks
	s.mu.Unlock()

	return s.GetSchedule(ctx, schedule.TenantID, schedule.ProviderID)
}

func (s *Store) ListBusy(ctx context.Context, tenantID, providerID string, date time.Time) ([]domain.BusyInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBusyLocked(tenantID, providerID, date), nil
}

func (s *Store) listBusyLocked(tenantID, providerID string, date time.Time) []domain.BusyInterval {
	out := make([]domain.BusyInterval, 0)
	for _, a := range s.appointments {
		if a.TenantID == tenantID && a.ProviderID == providerID && sameDate(a.Date, date) && a.Status != domain.StatusCancelled {
			out = append(out, a.Busy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (s *Store) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) InProviderDayTransaction(ctx context.Context, tenantID, providerID string, date time.Time, fn func(ctx context.Context, tx store.BookingTx) error) error {
	lock := s.dayLock(fmt.Sprintf("%s:%s:%s", tenantID, providerID, domain.FormatDate(date)))
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, bookingTx{s: s})
}

func (s *Store) dayLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.dayLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.dayLocks[key] = l
	}
	return l
}

func (s *Store) Mutate(ctx context.Context, appointmentID uuid.UUID, fn func(appt *domain.Appointment) (bool, error)) (domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	changed, err := fn(&a)
	if err != nil {
		return domain.Appointment{}, err
	}
	if changed {
		a.UpdatedAt = time.Now().UTC()
		s.appointments[appointmentID] = a
	}
	return a, nil
}

// create mirrors the Postgres primary key and the live-appointment overlap
// constraints.
func (s *Store) create(appt domain.Appointment) (domain.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID != uuid.Nil {
		if existing, ok := s.appointments[appt.ID]; ok {
			if !existing.SameBooking(appt) {
				return domain.Appointment{}, false, store.ErrIdempotencyConflict
			}
			return existing, false, nil
		}
	}

	if appt.Status != domain.StatusCancelled {
		for _, a := range s.appointments {
			if a.Status == domain.StatusCancelled {
				continue
			}
			if a.TenantID == appt.TenantID && a.ProviderID == appt.ProviderID && sameDate(a.Date, appt.Date) && a.Interval().Overlaps(appt.Interval()) {
				return domain.Appointment{}, false, store.ErrConflict
			}
		}
	}

	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, false, err
		}
		appt.ID = id
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	s.appointments[appt.ID] = appt
	return appt, true, nil
}

type bookingTx struct {
	s *Store
}

func (t bookingTx) ListWindows(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.AvailabilityWindow, error) {
	return t.s.ListWindows(ctx, tenantID, providerID, dayOfWeek)
}

func (t bookingTx) ListBreaks(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.Break, error) {
	return t.s.ListBreaks(ctx, tenantID, providerID, dayOfWeek)
}

func (t bookingTx) ListBusy(ctx context.Context, tenantID, providerID string, date time.Time) ([]domain.BusyInterval, error) {
	return t.s.ListBusy(ctx, tenantID, providerID, date)
}

func (t bookingTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Appointment{}, false, err
	}
	return t.s.create(appt)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
