package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"carebook/internal/domain"
	"carebook/internal/observability/metrics"
	"carebook/internal/store"
)

const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 480

	// DayStartGranularity is the fixed step of the single-day start-time
	// listing, independent of the booked service duration.
	DayStartGranularity = 30

	defaultParallelism        = 4
	defaultNextAvailableLimit = 10
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type Config struct {
	// Parallelism bounds the number of days loaded at once.
	Parallelism        int
	NextAvailableLimit int
	Location           *time.Location
	Logger             *slog.Logger
	Metrics            *metrics.BookingMetrics
	Now                func() time.Time
}

type Service struct {
	schedule store.ScheduleReader
	appts    store.BusyReader

	parallelism        int
	nextAvailableLimit int
	loc                *time.Location
	log                *slog.Logger
	metrics            *metrics.BookingMetrics
	now                func() time.Time
}

func NewService(schedule store.ScheduleReader, appts store.BusyReader, cfg Config) *Service {
	s := &Service{
		schedule:           schedule,
		appts:              appts,
		parallelism:        cfg.Parallelism,
		nextAvailableLimit: cfg.NextAvailableLimit,
		loc:                cfg.Location,
		log:                cfg.Logger,
		metrics:            cfg.Metrics,
		now:                cfg.Now,
	}
	if s.parallelism <= 0 {
		s.parallelism = defaultParallelism
	}
	if s.nextAvailableLimit <= 0 {
		s.nextAvailableLimit = defaultNextAvailableLimit
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With(slog.String("component", "service.availability"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type SearchQuery struct {
	TenantID        string
	ProviderID      string
	BaseDate        time.Time
	DurationMinutes int
	Horizon         domain.Horizon
	// MaxPerDay truncates each day's slots when positive.
	MaxPerDay int
	// NextAvailableLimit overrides the service default when positive.
	NextAvailableLimit int
}

type DaySlots struct {
	Date      time.Time
	DayOfWeek int
	DayName   string
	Slots     []domain.Slot
}

func (d DaySlots) SlotCount() int {
	return len(d.Slots)
}

type SearchResult struct {
	TenantID        string
	ProviderID      string
	StartDate       time.Time
	EndDate         time.Time
	DurationMinutes int
	Days            []DaySlots
	NextAvailable   []domain.Slot
}

func (r SearchResult) TotalSlots() int {
	n := 0
	for _, d := range r.Days {
		n += len(d.Slots)
	}
	return n
}

// Search lists free slots for every date in [BaseDate, Horizon.End(BaseDate)].
// A day whose data cannot be loaded is logged and left out; the rest of the
// horizon is still returned. Days come back in calendar order.
func (s *Service) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSearch("horizon", time.Since(started).Seconds()) }()

	q.TenantID = strings.TrimSpace(q.TenantID)
	q.ProviderID = strings.TrimSpace(q.ProviderID)
	if err := validateTarget(q.TenantID, q.ProviderID); err != nil {
		return SearchResult{}, err
	}
	if err := validateDuration(q.DurationMinutes); err != nil {
		return SearchResult{}, err
	}
	if q.MaxPerDay < 0 {
		return SearchResult{}, validationError("max_per_day must not be negative")
	}
	if q.BaseDate.IsZero() {
		return SearchResult{}, validationError("base_date is required")
	}

	horizon, err := domain.ParseHorizon(string(q.Horizon))
	if err != nil {
		return SearchResult{}, validationError("suggestion_type must be one of next_week, two_weeks, month")
	}
	base := domain.DateOf(q.BaseDate, time.UTC)
	end, err := horizon.End(base)
	if err != nil {
		return SearchResult{}, validationError(err.Error())
	}

	dates := domain.DatesBetween(base, end)
	perDay := make([]*DaySlots, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, date := range dates {
		g.Go(func() error {
			slots, err := s.daySlots(gctx, q.TenantID, q.ProviderID, date, q.DurationMinutes)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.log.Warn(
					"slot search day skipped",
					slog.Any("err", err),
					slog.String("tenant_id", q.TenantID),
					slog.String("provider_id", q.ProviderID),
					slog.String("date", domain.FormatDate(date)),
				)
				s.metrics.ObserveSkippedDay()
				return nil
			}
			if q.MaxPerDay > 0 && len(slots) > q.MaxPerDay {
				slots = slots[:q.MaxPerDay]
			}
			dow := domain.DayOfWeek(date)
			perDay[i] = &DaySlots{
				Date:      date,
				DayOfWeek: dow,
				DayName:   domain.DayName(dow),
				Slots:     slots,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SearchResult{}, err
	}

	out := SearchResult{
		TenantID:        q.TenantID,
		ProviderID:      q.ProviderID,
		StartDate:       base,
		EndDate:         end,
		DurationMinutes: q.DurationMinutes,
		Days:            make([]DaySlots, 0, len(dates)),
	}
	for _, d := range perDay {
		if d != nil {
			out.Days = append(out.Days, *d)
		}
	}

	limit := q.NextAvailableLimit
	if limit <= 0 {
		limit = s.nextAvailableLimit
	}
	out.NextAvailable = nextAvailable(out.Days, limit)
	return out, nil
}

// nextAvailable returns the first limit slots across days in chronological
// order.
func nextAvailable(days []DaySlots, limit int) []domain.Slot {
	all := make([]domain.Slot, 0)
	for _, d := range days {
		all = append(all, d.Slots...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].StartTime < all[j].StartTime
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// DaySlots returns the free slots of one date. Slots that have already started
// in the tenant location are left out.
func (s *Service) DaySlots(ctx context.Context, tenantID, providerID string, date time.Time, durationMinutes int) ([]domain.Slot, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveSearch("day", time.Since(started).Seconds()) }()

	tenantID = strings.TrimSpace(tenantID)
	providerID = strings.TrimSpace(providerID)
	if err := validateTarget(tenantID, providerID); err != nil {
		return nil, err
	}
	if err := validateDuration(durationMinutes); err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, validationError("date is required")
	}
	return s.daySlots(ctx, tenantID, providerID, domain.DateOf(date, time.UTC), durationMinutes)
}

// DayStartTimes lists free HH:MM start times of one date at the fixed
// DayStartGranularity.
func (s *Service) DayStartTimes(ctx context.Context, tenantID, providerID string, date time.Time) ([]string, error) {
	slots, err := s.DaySlots(ctx, tenantID, providerID, date, DayStartGranularity)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.StartTime.String())
	}
	return out, nil
}

func (s *Service) daySlots(ctx context.Context, tenantID, providerID string, date time.Time, durationMinutes int) ([]domain.Slot, error) {
	dow := domain.DayOfWeek(date)

	windows, err := s.schedule.ListWindows(ctx, tenantID, providerID, dow)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if len(windows) == 0 {
		return []domain.Slot{}, nil
	}
	breaks, err := s.schedule.ListBreaks(ctx, tenantID, providerID, dow)
	if err != nil {
		return nil, fmt.Errorf("list breaks: %w", err)
	}
	busy, err := s.appts.ListBusy(ctx, tenantID, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	slots := domain.GenerateSlots(date, windows, breaks, busy, durationMinutes)
	return s.dropStarted(slots), nil
}

func (s *Service) dropStarted(slots []domain.Slot) []domain.Slot {
	now := s.now()
	out := slots[:0]
	for _, sl := range slots {
		if sl.StartsAt(s.loc).Before(now) {
			continue
		}
		out = append(out, sl)
	}
	return out
}

func validateTarget(tenantID, providerID string) error {
	if tenantID == "" {
		return validationError("tenant_id is required")
	}
	if providerID == "" {
		return validationError("doctor_id is required")
	}
	return nil
}

func validateDuration(minutes int) error {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return validationError(fmt.Sprintf("duration_minutes must be between %d and %d", MinDurationMinutes, MaxDurationMinutes))
	}
	return nil
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
