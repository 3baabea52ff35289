package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dk-marin/bookslot/libs/db"
	otelx "github.com/dk-marin/bookslot/libs/otel"
	"github.com/dk-marin/bookslot/services/sweeper-service/internal/outbox"
)

// Worker flips appointments whose end time has passed from pending or
// confirmed to completed. The status guard on the UPDATE means a concurrent
// cancellation wins: zero rows affected closes the job without an event.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("completion sweep failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var done []int64
	var failed []CompletionJob
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		completed, err := w.completeAppointment(jobCtx, tx, job)
		if err != nil {
			w.logger.Error("complete appointment failed", "err", err, "appointment_id", job.AppointmentID)
			failed = append(failed, job)
			continue
		}
		if completed {
			if err := w.emitCompleted(jobCtx, tx, job); err != nil {
				failed = append(failed, job)
				continue
			}
		}
		done = append(done, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return err
	}
	for _, job := range failed {
		nextRunAt := time.Now().UTC().Add(w.backoff)
		if err := w.repo.MarkFailed(ctx, tx, job.ID, job.Attempts+1, job.MaxAttempts, nextRunAt, "completion update failed"); err != nil {
			return err
		}
	}

	if len(done) > 0 {
		w.logger.Info("appointments swept", "completed", len(done), "failed", len(failed))
	}
	return tx.Commit(ctx)
}

func (w *Worker) completeAppointment(ctx context.Context, tx pgx.Tx, job CompletionJob) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed') AND end_time <= now()
	`, job.AppointmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (w *Worker) emitCompleted(ctx context.Context, tx pgx.Tx, job CompletionJob) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": job.AppointmentID,
		"provider_id":    job.ProviderID,
		"completed_at":   time.Now().UTC().Format(time.RFC3339),
		"end_time":       job.CompleteAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   job.AppointmentID,
		EventType:     outbox.EventAppointmentCompleted,
		Payload:       payload,
	})
}
