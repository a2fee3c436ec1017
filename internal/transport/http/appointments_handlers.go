package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carebook/internal/domain"
	"carebook/internal/service/appointments"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

type appointmentDTO struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	ServiceID string    `json:"service_id,omitempty"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentDTO(a domain.Appointment) appointmentDTO {
	return appointmentDTO{
		ID:        a.ID.String(),
		TenantID:  a.TenantID,
		DoctorID:  a.ProviderID,
		PatientID: a.PatientID,
		ServiceID: a.ServiceID,
		Date:      domain.FormatDate(a.Date),
		StartTime: a.StartTime.String(),
		EndTime:   a.EndTime.String(),
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type bookRequest struct {
	TenantID        string `json:"tenant_id"`
	DoctorID        string `json:"doctor_id"`
	ServiceID       string `json:"service_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	AutoConfirm     *bool  `json:"auto_confirm"`
}

type statusRequest struct {
	AppointmentID string  `json:"appointmentId"`
	Status        string  `json:"status"`
	Notes         *string `json:"notes"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "Request body must be valid JSON.")
		return false
	}
	return true
}

func parseAppointmentID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "appointmentId must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handler) bookAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "appointments.book"))

	var req bookRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := appointments.BookInput{
		Principal:       PrincipalFromContext(r.Context()),
		TenantID:        tenantFor(r, req.TenantID),
		ProviderID:      req.DoctorID,
		ServiceID:       req.ServiceID,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
		AutoConfirm:     req.AutoConfirm,
		IdempotencyKey:  r.Header.Get(headerIdempotencyKey),
	}

	if strings.TrimSpace(req.Date) != "" {
		date, err := domain.ParseDate(strings.TrimSpace(req.Date))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "date must be YYYY-MM-DD")
			return
		}
		in.Date = date
	}
	start, err := domain.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParameters, "start_time must be HH:MM")
		return
	}
	in.StartTime = start
	if strings.TrimSpace(req.EndTime) != "" {
		end, err := domain.ParseClock(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParameters, "end_time must be HH:MM")
			return
		}
		in.EndTime = end
	}

	res, err := h.appointments.Book(r.Context(), in)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
		status = http.StatusOK
	}
	writeData(w, status, toAppointmentDTO(res.Appointment))
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "appointments.get"))

	id, ok := parseAppointmentID(w, chi.URLParam(r, "appointmentId"))
	if !ok {
		return
	}
	a, err := h.appointments.Get(r.Context(), PrincipalFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeData(w, http.StatusOK, toAppointmentDTO(a))
}

func (h *handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "appointments.cancel"))

	id, ok := parseAppointmentID(w, chi.URLParam(r, "appointmentId"))
	if !ok {
		return
	}
	a, err := h.appointments.Cancel(r.Context(), PrincipalFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeData(w, http.StatusOK, toAppointmentDTO(a))
}

func (h *handler) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("route", "doctors.appointments.update"))

	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, ok := parseAppointmentID(w, req.AppointmentID)
	if !ok {
		return
	}

	a, err := h.appointments.UpdateStatus(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "doctorId"), appointments.StatusUpdate{
		AppointmentID: id,
		Status:        req.Status,
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	writeData(w, http.StatusOK, toAppointmentDTO(a))
}
