// Package notify publishes appointment lifecycle events. Delivery to patients
// and providers happens downstream; carebook only emits the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"carebook/internal/domain"
)

type EventType string

const (
	EventCreated   EventType = "appointment.created"
	EventConfirmed EventType = "appointment.confirmed"
	EventCompleted EventType = "appointment.completed"
	EventCancelled EventType = "appointment.cancelled"
)

// EventForStatus maps the status an appointment moved to onto its event.
func EventForStatus(s domain.Status) (EventType, bool) {
	switch s {
	case domain.StatusConfirmed:
		return EventConfirmed, true
	case domain.StatusCompleted:
		return EventCompleted, true
	case domain.StatusCancelled:
		return EventCancelled, true
	default:
		return "", false
	}
}

type Event struct {
	Type          EventType `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	ProviderID    string    `json:"doctor_id"`
	PatientID     string    `json:"patient_id"`
	Status        string    `json:"status"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewEvent(t EventType, a domain.Appointment, at time.Time) Event {
	return Event{
		Type:          t,
		AppointmentID: a.ID.String(),
		TenantID:      a.TenantID,
		ProviderID:    a.ProviderID,
		PatientID:     a.PatientID,
		Status:        string(a.Status),
		Date:          domain.FormatDate(a.Date),
		StartTime:     a.StartTime.String(),
		EndTime:       a.EndTime.String(),
		OccurredAt:    at.UTC(),
	}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Publisher is the part of *nats.Conn the notifier uses.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

const DefaultSubjectPrefix = "carebook"

// NATSNotifier publishes each event as JSON on <prefix>.<event type>, e.g.
// carebook.appointment.cancelled.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

func NewNATSNotifier(pub Publisher, subjectPrefix string) *NATSNotifier {
	prefix := strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

func (n *NATSNotifier) Subject(t EventType) string {
	return n.prefix + "." + string(t)
}

func (n *NATSNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := n.pub.Publish(n.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", n.Subject(ev.Type), err)
	}
	return nil
}

// LogNotifier writes events to the log. Used when NATS is not configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify.log"))}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.log.InfoContext(
		ctx,
		"appointment event",
		slog.String("type", string(ev.Type)),
		slog.String("appointment_id", ev.AppointmentID),
		slog.String("tenant_id", ev.TenantID),
		slog.String("status", ev.Status),
	)
	return nil
}
