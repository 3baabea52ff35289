package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dk-marin/bookslot/libs/db"
	"github.com/dk-marin/bookslot/services/booking-service/internal/booking"
	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
	"github.com/dk-marin/bookslot/services/booking-service/internal/outbox"
	"github.com/dk-marin/bookslot/services/booking-service/internal/schedule"
)

const appointmentColumns = `id::text, provider_id::text, service_id::text, user_id::text,
	start_time, end_time, duration_minutes, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

// AppointmentStore is the Postgres implementation of booking.Store. The
// booking critical section is a transaction-scoped advisory lock keyed on
// (provider, day) with a bounded lock_timeout; the appointments table
// additionally carries a no-overlap exclusion constraint
// (appointments_no_overlap) as a second line of defense.
type AppointmentStore struct {
	pool     *db.Pool
	outbox   *outbox.Repository
	lockWait time.Duration
}

func NewAppointmentStore(pool *db.Pool, outboxRepo *outbox.Repository, lockWait time.Duration) *AppointmentStore {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &AppointmentStore{pool: pool, outbox: outboxRepo, lockWait: lockWait}
}

func (s *AppointmentStore) GetProvider(ctx context.Context, providerID string) (model.Provider, error) {
	var p model.Provider
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, slot_step_minutes, is_active, created_at
		FROM providers
		WHERE id = $1
	`, providerID).Scan(&p.ID, &p.Name, &p.SlotStepMins, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, booking.ErrProviderNotFound
	}
	if err != nil {
		return model.Provider{}, err
	}
	if !p.IsActive {
		// Deactivated providers are invisible to booking.
		return model.Provider{}, booking.ErrProviderNotFound
	}
	return p, nil
}

func (s *AppointmentStore) GetService(ctx context.Context, providerID, serviceID string) (model.Service, error) {
	var svc model.Service
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, provider_id::text, name, duration_minutes, price::text, is_active, created_at
		FROM services
		WHERE id = $1 AND provider_id = $2
	`, serviceID, providerID).Scan(&svc.ID, &svc.ProviderID, &svc.Name, &svc.DurationMins, &svc.Price, &svc.IsActive, &svc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, booking.ErrInvalidService
	}
	if err != nil {
		return model.Service{}, err
	}
	if !svc.IsActive {
		return model.Service{}, booking.ErrInvalidService
	}
	return svc, nil
}

func (s *AppointmentStore) ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHoursRule, error) {
	rows, err := s.pool.Query(ctx, `
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
		var r model.WorkingHoursRule
		if err := rows.Scan(&r.ProviderID, &r.Weekday, &r.Closed, &r.OpenMinute, &r.CloseMinute); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

func (s *AppointmentStore) BusyIntervals(ctx context.Context, providerID string, from, to time.Time) ([]schedule.Interval, error) {
	return busyIntervals(ctx, s.pool, providerID, from, to)
}

func (s *AppointmentStore) ListAppointments(ctx context.Context, filter booking.ListFilter) ([]model.Appointment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where := []string{"TRUE"}
	args := []any{}
	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		where = append(where, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY start_time DESC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (s *AppointmentStore) WithDayLock(ctx context.Context, providerID string, day time.Time, fn func(tx booking.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL does not take bind parameters; the value is a trusted
	// integer from config.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return err
	}

	lockKey := providerID + "@" + day.UTC().Format("2006-01-02")
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		if isLockTimeout(err) {
			return booking.ErrLockTimeout
		}
		return err
	}

	if err := fn(&pgTx{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *AppointmentStore) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) BusyIntervals(ctx context.Context, providerID string, from, to time.Time) ([]schedule.Interval, error) {
	return busyIntervals(ctx, t.tx, providerID, from, to)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, provider_id, service_id, user_id, start_time, end_time, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, appt.ID, appt.ProviderID, appt.ServiceID, appt.UserID,
		appt.StartTime, appt.EndTime, appt.DurationMins, appt.Status).Scan(&appt.CreatedAt)
	if isExclusionViolation(err) {
		return booking.ErrSlotTaken
	}
	return err
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, providerID, appointmentID string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND provider_id = $2
		FOR UPDATE
	`, appointmentID, providerID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrAppointmentNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (t *pgTx) MarkCancelled(ctx context.Context, providerID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE id = $1 AND provider_id = $2
		RETURNING cancelled_at
	`, appointmentID, providerID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func busyIntervals(ctx context.Context, q querier, providerID string, from, to time.Time) ([]schedule.Interval, error) {
	rows, err := q.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []schedule.Interval
	for rows.Next() {
		var iv schedule.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return busy, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.ServiceID,
		&appt.UserID,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMins,
		&appt.Status,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
