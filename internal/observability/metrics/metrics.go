package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for slot search and the
// appointment lifecycle. A nil *BookingMetrics is a valid no-op.
type BookingMetrics struct {
	bookingsTotal       *prometheus.CounterVec
	searchDuration      *prometheus.HistogramVec
	searchDaysSkipped   prometheus.Counter
	transitionsTotal    *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "availability",
			Name:      "slot_search_duration_seconds",
			Help:      "Latency of slot searches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		searchDaysSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "availability",
			Name:      "slot_search_days_skipped_total",
			Help:      "Horizon days skipped because their data could not be loaded",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "lifecycle_transitions_total",
			Help:      "Applied appointment status transitions",
		}, []string{"from", "to"}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "notify",
			Name:      "notifications_failed_total",
			Help:      "Appointment events that could not be published",
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.searchDuration, m.searchDaysSkipped, m.transitionsTotal, m.notificationsFailed)
	return m
}

// ObserveBooking records a booking outcome such as "created", "replayed",
// "conflict", "invalid_window" or "error".
func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveSearch(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.searchDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *BookingMetrics) ObserveSkippedDay() {
	if m == nil {
		return
	}
	m.searchDaysSkipped.Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveNotificationFailure(eventType string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(eventType).Inc()
}
