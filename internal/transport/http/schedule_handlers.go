package httptransport

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"carebook/internal/domain"
)

type scheduleEntryDTO struct {
	ID        string `json:"id,omitempty"`
	DayOfWeek int    `json:"day_of_week"`
	DayName   string `json:"day_name,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

type scheduleDTO struct {
	TenantID string             `json:"tenant_id"`
	DoctorID string             `json:"doctor_id"`
	Windows  []scheduleEntryDTO `json:"windows"`
	Breaks   []scheduleEntryDTO `json:"breaks"`
}

type scheduleRequest struct {
	TenantID string             `json:"tenant_id"`
	Windows  []scheduleEntryDTO `json:"windows"`
	Breaks   []scheduleEntryDTO `json:"breaks"`
}

func toScheduleDTO(s domain.WeeklySchedule) scheduleDTO {
	out := scheduleDTO{
		TenantID: s.TenantID,
		DoctorID: s.ProviderID,
		Windows:  make([]scheduleEntryDTO, 0, len(s.Windows)),
		Breaks:   make([]scheduleEntryDTO, 0, len(s.Breaks)),
	}
	for _, w := range s.Windows {
		active := w.IsActive
		out.Windows = append(out.Windows, scheduleEntryDTO{
			ID:        w.ID.String(),
			DayOfWeek: w.DayOfWeek,
			DayName:   domain.DayName(w.DayOfWeek),
			StartTime: w.StartTime.String(),
			EndTime:   w.EndTime.String(),
			IsActive:  &active,
		})
	}
	for _, b := range s.Breaks {
		active := b.IsActive
		out.Breaks = append(out.Breaks, scheduleEntryDTO{
			ID:        b.ID.String(),
			DayOfWeek: b.DayOfWeek,
			DayName:   domain.DayName(b.DayOfWeek),
			StartTime: b.StartTime.String(),
			EndTime:   b.EndTime.String(),
			IsActive:  &active,
		})
	}
	return out
}

// parseEntry turns a request entry into its day, interval and active flag.
// Entries are active unless is_active is explicitly false.
func parseEntry(e scheduleEntryDTO) (int, domain.Interval, bool, bool) {
	start, err := domain.ParseClock(e.StartTime)
	if err != nil {
		return 0, domain.Interval{}, false, false
	}
	end, err := domain.ParseClock(e.EndTime)
	if err != nil {
		return 0, domain.Interval{}, false, false
	}
	active := e.IsActive == nil || *e.IsActive
	return e.DayOfWeek, domain.Interval{Start: start, End: end}, active, true
}

func canManageSchedule(p domain.Principal, tenantID, providerID string) bool {
	if p.Anonymous() || p.TenantID != tenantID {
		return false
	}
	return p.Role == domain.RoleAdmin || p.UserID == providerID
}

func (h *handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "doctors.schedule.get"))

	providerID := strings.TrimSpace(chi.URLParam(r, "doctorId"))
	tenantID := tenantFor(r, r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "tenant_id is required")
		return
	}
	if !canManageSchedule(PrincipalFromContext(r.Context()), tenantID, providerID) {
		writeError(w, http.StatusForbidden, codeForbidden, "You are not allowed to do that.")
		return
	}

	s, err := h.schedules.GetSchedule(r.Context(), tenantID, providerID)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeData(w, http.StatusOK, toScheduleDTO(s))
}

func (h *handler) replaceSchedule(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "doctors.schedule.replace"))

	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	providerID := strings.TrimSpace(chi.URLParam(r, "doctorId"))
	tenantID := tenantFor(r, req.TenantID)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "tenant_id is required")
		return
	}
	p := PrincipalFromContext(r.Context())
	if !canManageSchedule(p, tenantID, providerID) {
		writeError(w, http.StatusForbidden, codeForbidden, "You are not allowed to do that.")
		return
	}

	schedule := domain.WeeklySchedule{TenantID: tenantID, ProviderID: providerID}
	for _, e := range req.Windows {
		day, iv, active, ok := parseEntry(e)
		if !ok {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "windows: start_time and end_time must be HH:MM")
			return
		}
		schedule.Windows = append(schedule.Windows, domain.AvailabilityWindow{
			DayOfWeek: day,
			StartTime: iv.Start,
			EndTime:   iv.End,
			IsActive:  active,
		})
	}
	for _, e := range req.Breaks {
		day, iv, active, ok := parseEntry(e)
		if !ok {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "breaks: start_time and end_time must be HH:MM")
			return
		}
		schedule.Breaks = append(schedule.Breaks, domain.Break{
			DayOfWeek: day,
			StartTime: iv.Start,
			EndTime:   iv.End,
			IsActive:  active,
		})
	}
	if err := schedule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, err.Error())
		return
	}

	saved, err := h.schedules.ReplaceSchedule(r.Context(), schedule)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	h.log.Info(
		"schedule replaced",
		slog.String("tenant_id", tenantID),
		slog.String("provider_id", providerID),
		slog.String("by", p.UserID),
		slog.Int("windows", len(saved.Windows)),
		slog.Int("breaks", len(saved.Breaks)),
	)
	writeData(w, http.StatusOK, toScheduleDTO(saved))
}
