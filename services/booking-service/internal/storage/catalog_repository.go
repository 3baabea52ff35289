package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dk-marin/bookslot/libs/db"
	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
)

// ErrNotFound is returned by catalog lookups for unknown rows.
var ErrNotFound = errors.New("not found")

// CatalogRepository owns the provider/service/working-hours records the
// scheduling core reads.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) CreateProvider(ctx context.Context, name string, slotStepMins int) (model.Provider, error) {
	p := model.Provider{
		ID:           uuid.NewString(),
		Name:         name,
		SlotStepMins: slotStepMins,
		IsActive:     true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, slot_step_minutes, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING created_at
	`, p.ID, p.Name, p.SlotStepMins).Scan(&p.CreatedAt)
	if err != nil {
		return model.Provider{}, err
	}
	return p, nil
}

// DeactivateProvider soft-deletes: appointments keep referencing the row,
// but the provider stops accepting bookings.
func (r *CatalogRepository) DeactivateProvider(ctx context.Context, providerID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE providers SET is_active = FALSE WHERE id = $1
	`, providerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CatalogRepository) CreateService(ctx context.Context, providerID, name string, durationMins int, price string) (model.Service, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)
	`, providerID).Scan(&exists); err != nil {
		return model.Service{}, err
	}
	if !exists {
		return model.Service{}, ErrNotFound
	}

	svc := model.Service{
		ID:           uuid.NewString(),
		ProviderID:   providerID,
		Name:         name,
		DurationMins: durationMins,
		Price:        price,
		IsActive:     true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (id, provider_id, name, duration_minutes, price, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING created_at
	`, svc.ID, svc.ProviderID, svc.Name, svc.DurationMins, svc.Price).Scan(&svc.CreatedAt)
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (r *CatalogRepository) ListServices(ctx context.Context, providerID string, limit int) ([]model.Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, name, duration_minutes, price::text, is_active, created_at
		FROM services
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.ProviderID, &svc.Name, &svc.DurationMins, &svc.Price, &svc.IsActive, &svc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertWorkingHours keeps the one-rule-per-(provider, weekday) invariant by
// conflicting on that pair.
func (r *CatalogRepository) UpsertWorkingHours(ctx context.Context, rule model.WorkingHoursRule) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)
	`, rule.ProviderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO working_hours (provider_id, weekday, closed, open_minute, close_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET closed = EXCLUDED.closed,
			open_minute = EXCLUDED.open_minute,
			close_minute = EXCLUDED.close_minute
	`, rule.ProviderID, rule.Weekday, rule.Closed, rule.OpenMinute, rule.CloseMinute)
	return err
}

func (r *CatalogRepository) ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHoursRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id::text, weekday, closed, open_minute, close_minute
		FROM working_hours
		WHERE provider_id = $1
		ORDER BY weekday ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.WorkingHoursRule
	for rows.Next() {
		var rule model.WorkingHoursRule
		if err := rows.Scan(&rule.ProviderID, &rule.Weekday, &rule.Closed, &rule.OpenMinute, &rule.CloseMinute); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}
