package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"carebook/internal/domain"
	"carebook/internal/service/appointments"
	"carebook/internal/service/availability"
	"carebook/internal/store"
)

const (
	codeInvalidParameters  = "invalid_parameters"
	codeInvalidWindow      = "invalid_window"
	codeNotFound           = "not_found"
	codeForbidden          = "forbidden"
	codeUnauthorized       = "unauthorized"
	codeConflict           = "conflict"
	codePreconditionFailed = "precondition_failed"
	codeRateLimited        = "rate_limited"
	codeTimeout            = "timeout"
	codeInternal           = "internal"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: message}})
}

// writeServiceError maps service and store errors onto HTTP responses.
// Unexpected errors are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		availErr *availability.ValidationError
		apptErr  *appointments.ValidationError
	)
	switch {
	case errors.As(err, &availErr):
		writeError(w, http.StatusBadRequest, codeInvalidParameters, availErr.Error())
	case errors.As(err, &apptErr):
		writeError(w, http.StatusBadRequest, codeInvalidParameters, apptErr.Error())
	case errors.Is(err, domain.ErrOutsideAvailability):
		writeError(w, http.StatusBadRequest, codeInvalidWindow, "The requested time is outside the doctor's working hours.")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "Appointment not found.")
	case errors.Is(err, appointments.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "You are not allowed to do that.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, codeConflict, "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, domain.ErrSlotConflict), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "That time slot is no longer available. Pick a different slot.")
	case errors.Is(err, domain.ErrCancellationWindow):
		writeError(w, http.StatusBadRequest, codePreconditionFailed, "Appointments can only be cancelled at least 24 hours in advance.")
	case errors.Is(err, domain.ErrTerminalStatus):
		writeError(w, http.StatusBadRequest, codePreconditionFailed, "The appointment is already completed or cancelled.")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, codePreconditionFailed, "That status change is not allowed.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", slog.Any("err", err))
		writeError(w, http.StatusGatewayTimeout, codeTimeout, "The request took too long. Try again.")
	default:
		log.Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
