package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"carebook/internal/domain"
	"carebook/internal/service/availability"
)

type slotDTO struct {
	Date      string `json:"date"`
	DayOfWeek int    `json:"day_of_week"`
	DayName   string `json:"day_name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type dayDTO struct {
	Date      string    `json:"date"`
	DayOfWeek int       `json:"day_of_week"`
	DayName   string    `json:"day_name"`
	SlotCount int       `json:"slot_count"`
	Slots     []slotDTO `json:"slots"`
}

type dateRangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type searchDTO struct {
	DoctorID        string       `json:"doctor_id"`
	TenantID        string       `json:"tenant_id"`
	DateRange       dateRangeDTO `json:"date_range"`
	DurationMinutes int          `json:"duration_minutes"`
	TotalSlots      int          `json:"total_slots"`
	Days            []dayDTO     `json:"days"`
	NextAvailable   []slotDTO    `json:"next_available"`
}

func toSlotDTOs(slots []domain.Slot) []slotDTO {
	out := make([]slotDTO, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotDTO{
			Date:      domain.FormatDate(s.Date),
			DayOfWeek: s.DayOfWeek,
			DayName:   s.DayName(),
			StartTime: s.StartTime.String(),
			EndTime:   s.EndTime.String(),
		})
	}
	return out
}

func toSearchDTO(res availability.SearchResult) searchDTO {
	days := make([]dayDTO, 0, len(res.Days))
	for _, d := range res.Days {
		days = append(days, dayDTO{
			Date:      domain.FormatDate(d.Date),
			DayOfWeek: d.DayOfWeek,
			DayName:   d.DayName,
			SlotCount: d.SlotCount(),
			Slots:     toSlotDTOs(d.Slots),
		})
	}
	return searchDTO{
		DoctorID: res.ProviderID,
		TenantID: res.TenantID,
		DateRange: dateRangeDTO{
			Start: domain.FormatDate(res.StartDate),
			End:   domain.FormatDate(res.EndDate),
		},
		DurationMinutes: res.DurationMinutes,
		TotalSlots:      res.TotalSlots(),
		Days:            days,
		NextAvailable:   toSlotDTOs(res.NextAvailable),
	}
}

// tenantFor prefers an explicit tenant parameter and falls back to the
// caller's token tenant.
func tenantFor(r *http.Request, explicit string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	return PrincipalFromContext(r.Context()).TenantID
}

// dayAvailability answers the single-day lookup with a bare list of free
// HH:MM start times.
func (h *handler) dayAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	log := h.log.With(slog.String("route", "availability"))

	rawDate := strings.TrimSpace(q.Get("date"))
	if rawDate == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "date is required")
		return
	}
	date, err := domain.ParseDate(rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "date must be YYYY-MM-DD")
		return
	}

	times, err := h.availability.DayStartTimes(r.Context(), tenantFor(r, q.Get("tenantId")), q.Get("doctorId"), date)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, times)
}

func (h *handler) availableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	log := h.log.With(slog.String("route", "available-slots"))

	query := availability.SearchQuery{
		TenantID:   tenantFor(r, q.Get("tenant_id")),
		ProviderID: chi.URLParam(r, "doctorId"),
	}

	for _, name := range []string{"base_date", "duration_minutes", "suggestion_type"} {
		if strings.TrimSpace(q.Get(name)) == "" {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, name+" is required")
			return
		}
	}

	date, err := domain.ParseDate(strings.TrimSpace(q.Get("base_date")))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "base_date must be YYYY-MM-DD")
		return
	}
	query.BaseDate = date

	n, err := strconv.Atoi(strings.TrimSpace(q.Get("duration_minutes")))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "duration_minutes must be an integer")
		return
	}
	query.DurationMinutes = n
	query.Horizon = domain.Horizon(strings.TrimSpace(q.Get("suggestion_type")))

	if raw := strings.TrimSpace(q.Get("max_per_day")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "max_per_day must be an integer")
			return
		}
		query.MaxPerDay = n
	}

	res, err := h.availability.Search(r.Context(), query)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeData(w, http.StatusOK, toSearchDTO(res))
}
