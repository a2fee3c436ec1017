package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"carebook/internal/domain"
	"carebook/internal/store"
)

const (
	activeSlotConstraint = "appointments_active_slot_key"
	noOverlapConstraint  = "appointments_no_overlap"
	primaryKeyConstraint = "appointments_pkey"
)

type AppointmentRepo struct {
	db *bun.DB
}

var _ store.AppointmentRepository = (*AppointmentRepo)(nil)

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type providerDayTx struct {
	tx bun.Tx
}

var _ store.BookingTx = providerDayTx{}

func (r *AppointmentRepo) ListBusy(ctx context.Context, tenantID, providerID string, date time.Time) ([]domain.BusyInterval, error) {
	return listBusy(ctx, r.db, tenantID, providerID, date)
}

func (r *AppointmentRepo) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.db.NewSelect().
		Model(&a).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return a, nil
}

func (r *AppointmentRepo) InProviderDayTransaction(ctx context.Context, tenantID, providerID string, date time.Time, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderDay(ctx, tx, tenantID, providerID, date); err != nil {
			return err
		}
		return fn(ctx, providerDayTx{tx: tx})
	})
}

// lockProviderDay serialises every booking writer of one provider-day for the
// rest of the transaction.
func lockProviderDay(ctx context.Context, tx bun.Tx, tenantID, providerID string, date time.Time) error {
	key := tenantID + ":" + providerID + ":" + domain.FormatDate(date)
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func (r *AppointmentRepo) Mutate(ctx context.Context, appointmentID uuid.UUID, fn func(appt *domain.Appointment) (bool, error)) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var a domain.Appointment
		err := tx.NewSelect().
			Model(&a).
			Where("id = ?", appointmentID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		changed, err := fn(&a)
		if err != nil {
			return err
		}
		if changed {
			_, err = tx.NewUpdate().
				Model(&a).
				Column("status", "notes", "updated_at").
				WherePK().
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (t providerDayTx) ListWindows(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.AvailabilityWindow, error) {
	return listWindows(ctx, t.tx, tenantID, providerID, dayOfWeek)
}

func (t providerDayTx) ListBreaks(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.Break, error) {
	return listBreaks(ctx, t.tx, tenantID, providerID, dayOfWeek)
}

func (t providerDayTx) ListBusy(ctx context.Context, tenantID, providerID string, date time.Time) ([]domain.BusyInterval, error) {
	return listBusy(ctx, t.tx, tenantID, providerID, date)
}

// CreateAppointment inserts with ON CONFLICT (id) DO NOTHING so an idempotent
// replay does not abort the transaction; a skipped insert is resolved by
// comparing against the stored row.
func (t providerDayTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, bool, error) {
	m := appt
	res, err := t.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, false, mapWriteError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, false, err
	}
	if affected == 1 {
		return m, true, nil
	}

	var existing domain.Appointment
	err = t.tx.NewSelect().
		Model(&existing).
		Where("id = ?", m.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	if !existing.SameBooking(appt) {
		return domain.Appointment{}, false, store.ErrIdempotencyConflict
	}
	return existing, false, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotConstraint:
		return store.ErrConflict
	case pgErr.Code == "23P01" && pgErr.ConstraintName == noOverlapConstraint:
		return store.ErrConflict
	case pgErr.Code == "23505" && pgErr.ConstraintName == primaryKeyConstraint:
		return store.ErrIdempotencyConflict
	}
	return err
}

func listBusy(ctx context.Context, db bun.IDB, tenantID, providerID string, date time.Time) ([]domain.BusyInterval, error) {
	var rows []domain.Appointment
	err := db.NewSelect().
		Model(&rows).
		Column("start_time", "end_time", "status").
		Where("tenant_id = ?", tenantID).
		Where("provider_id = ?", providerID).
		Where("date = ?::date", domain.FormatDate(date)).
		Where("status <> ?", domain.StatusCancelled).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.BusyInterval, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.Busy())
	}
	return out, nil
}
