package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	otelx "github.com/dk-marin/bookslot/libs/otel"
)

// CompletionJob schedules the status flip of one appointment to completed
// once its end time has passed. One job per appointment.
type CompletionJob struct {
	ID            int64
	AppointmentID string
	ProviderID    string
	CompleteAt    time.Time
	Traceparent   string
	Tracestate    string
	Attempts      int
	MaxAttempts   int
	NextRunAt     time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert enqueues the job. Replayed booked events are absorbed by the
// appointment_id conflict target.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job CompletionJob) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO completion_jobs (appointment_id, provider_id, complete_at, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $3, $4, $5)
		ON CONFLICT (appointment_id) DO NOTHING
	`, job.AppointmentID, job.ProviderID, job.CompleteAt, traceparent, tracestate)
	return err
}

// CancelByAppointment drops the pending job when the appointment is
// cancelled before its end time.
func (r *Repository) CancelByAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE completion_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]CompletionJob, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id::text, provider_id::text, complete_at, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM completion_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []CompletionJob
	for rows.Next() {
		var j CompletionJob
		if err := rows.Scan(&j.ID, &j.AppointmentID, &j.ProviderID, &j.CompleteAt, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE completion_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE completion_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
