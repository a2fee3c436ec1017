// Package httptransport exposes the booking engine over JSON/HTTP.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"carebook/internal/service/appointments"
	"carebook/internal/service/availability"
	"carebook/internal/store"
)

type Config struct {
	Logger         *slog.Logger
	Availability   *availability.Service
	Appointments   *appointments.Service
	Schedules      store.ScheduleRepository
	MetricsHandler http.Handler
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error

	JWTSecret      string
	RequestTimeout time.Duration
	// RateLimit is booking writes per second per caller; zero disables it.
	RateLimit float64
	RateBurst int
}

type handler struct {
	log          *slog.Logger
	availability *availability.Service
	appointments *appointments.Service
	schedules    store.ScheduleRepository
	ready        func(ctx context.Context) error
}

func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handler{
		log:          log.With(slog.String("component", "http")),
		availability: cfg.Availability,
		appointments: cfg.Appointments,
		schedules:    cfg.Schedules,
		ready:        cfg.Ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(api chi.Router) {
		api.Use(RequestTimeout(cfg.RequestTimeout))
		api.Use(Authenticate(cfg.JWTSecret, log))

		api.Get("/availability", h.dayAvailability)
		api.Get("/doctors/{doctorId}/available-slots", h.availableSlots)

		api.Group(func(authed chi.Router) {
			authed.Use(RequireAuth)

			authed.Get("/appointments/{appointmentId}", h.getAppointment)
			authed.Get("/doctors/{doctorId}/schedule", h.getSchedule)

			authed.Group(func(writes chi.Router) {
				if cfg.RateLimit > 0 {
					writes.Use(RateLimit(cfg.RateLimit, cfg.RateBurst))
				}
				writes.Post("/appointments", h.bookAppointment)
				writes.Put("/appointments/{appointmentId}/cancel", h.cancelAppointment)
				writes.Put("/doctors/{doctorId}/appointments", h.updateAppointmentStatus)
				writes.Put("/doctors/{doctorId}/schedule", h.replaceSchedule)
			})
		})
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.log.Warn("readiness check failed", slog.Any("err", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
