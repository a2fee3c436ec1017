package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"carebook/internal/domain"
	"carebook/internal/store"
)

// ScheduleRepo serves availability windows and breaks. Both tables are
// configured by tenant admins and only read on the booking path.
type ScheduleRepo struct {
	db *bun.DB
}

var _ store.ScheduleRepository = (*ScheduleRepo)(nil)

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

func (r *ScheduleRepo) ListWindows(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.AvailabilityWindow, error) {
	return listWindows(ctx, r.db, tenantID, providerID, dayOfWeek)
}

func (r *ScheduleRepo) ListBreaks(ctx context.Context, tenantID, providerID string, dayOfWeek int) ([]domain.Break, error) {
	return listBreaks(ctx, r.db, tenantID, providerID, dayOfWeek)
}

func (r *ScheduleRepo) GetSchedule(ctx context.Context, tenantID, providerID string) (domain.WeeklySchedule, error) {
	return getSchedule(ctx, r.db, tenantID, providerID)
}

// ReplaceSchedule swaps the provider's whole weekly schedule in one
// transaction so readers never see a half-written week.
func (r *ScheduleRepo) ReplaceSchedule(ctx context.Context, schedule domain.WeeklySchedule) (domain.WeeklySchedule, error) {
	var out domain.WeeklySchedule
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*domain.AvailabilityWindow)(nil)).
			Where("tenant_id = ?", schedule.TenantID).
			Where("provider_id = ?", schedule.ProviderID).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewDelete().
			Model((*domain.Break)(nil)).
			Where("tenant_id = ?", schedule.TenantID).
			Where("provider_id = ?", schedule.ProviderID).
			Exec(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if len(schedule.Windows) > 0 {
			rows := make([]domain.AvailabilityWindow, 0, len(schedule.Windows))
			for _, w := range schedule.Windows {
				id, err := uuid.NewV7()
				if err != nil {
					return err
				}
				w.ID, w.TenantID, w.ProviderID = id, schedule.TenantID, schedule.ProviderID
				w.CreatedAt, w.UpdatedAt = now, now
				rows = append(rows, w)
			}
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return err
			}
		}
		if len(schedule.Breaks) > 0 {
			rows := make([]domain.Break, 0, len(schedule.Breaks))
			for _, b := range schedule.Breaks {
				id, err := uuid.NewV7()
				if err != nil {
					return err
				}
				b.ID, b.TenantID, b.ProviderID = id, schedule.TenantID, schedule.ProviderID
				b.CreatedAt, b.UpdatedAt = now, now
				rows = append(rows, b)
			}
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return err
			}
		}

		s, err := getSchedule(ctx, tx, schedule.TenantID, schedule.ProviderID)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return domain.WeeklySchedule{}, err
	}
	return out, nil
}

func listWindows(ctx context.Context, db bun.IDB, tenantID, providerID string, dayOfWeek int) ([]domain.AvailabilityWindow, error) {
	rows := make([]domain.AvailabilityWindow, 0)
	err := db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("provider_id = ?", providerID).
		Where("day_of_week = ?", dayOfWeek).
		Where("is_active").
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func listBreaks(ctx context.Context, db bun.IDB, tenantID, providerID string, dayOfWeek int) ([]domain.Break, error) {
	rows := make([]domain.Break, 0)
	err := db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("provider_id = ?", providerID).
		Where("day_of_week = ?", dayOfWeek).
		Where("is_active").
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func getSchedule(ctx context.Context, db bun.IDB, tenantID, providerID string) (domain.WeeklySchedule, error) {
	out := domain.WeeklySchedule{TenantID: tenantID, ProviderID: providerID}
	err := db.NewSelect().
		Model(&out.Windows).
		Where("tenant_id = ?", tenantID).
		Where("provider_id = ?", providerID).
		OrderExpr("day_of_week ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return domain.WeeklySchedule{}, err
	}
	err = db.NewSelect().
		Model(&out.Breaks).
		Where("tenant_id = ?", tenantID).
		Where("provider_id = ?", providerID).
		OrderExpr("day_of_week ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return domain.WeeklySchedule{}, err
	}
	return out, nil
}
