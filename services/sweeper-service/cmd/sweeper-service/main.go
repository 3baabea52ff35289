package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dk-marin/bookslot/libs/config"
	"github.com/dk-marin/bookslot/libs/db"
	"github.com/dk-marin/bookslot/libs/httpx"
	"github.com/dk-marin/bookslot/libs/kafkax"
	otelx "github.com/dk-marin/bookslot/libs/otel"
	"github.com/dk-marin/bookslot/libs/runtime"
	"github.com/dk-marin/bookslot/services/sweeper-service/internal/consumer"
	"github.com/dk-marin/bookslot/services/sweeper-service/internal/inbox"
	"github.com/dk-marin/bookslot/services/sweeper-service/internal/jobs"
	"github.com/dk-marin/bookslot/services/sweeper-service/internal/outbox"
)

func main() {
	service := config.String("SERVICE_NAME", "sweeper-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 5)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository()

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	jobWorker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  time.Duration(config.Int("SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
		BatchSize: config.Int("SWEEP_BATCH_SIZE", 100),
		Backoff:   time.Duration(config.Int("SWEEP_BACKOFF_SECONDS", 60)) * time.Second,
	})
	go jobWorker.Run(ctx)

	type bookedPayload struct {
		AppointmentID string `json:"appointment_id"`
		ProviderID    string `json:"provider_id"`
		EndTime       string `json:"end_time"`
	}
	type cancelledPayload struct {
		AppointmentID string `json:"appointment_id"`
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "sweeper-service")

	bookedConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_BOOKED_TOPIC", "booking.appointment.booked.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload bookedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid booked payload", "err", err)
			return nil
		}
		endTime, err := time.Parse(time.RFC3339, payload.EndTime)
		if err != nil || payload.AppointmentID == "" {
			logger.Error("missing booked fields", "appointment_id", payload.AppointmentID)
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobRepo.Insert(ctx, tx, jobs.CompletionJob{
			AppointmentID: payload.AppointmentID,
			ProviderID:    payload.ProviderID,
			CompleteAt:    endTime,
		}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	go bookedConsumer.Run(ctx)

	cancelledConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   config.String("KAFKA_CANCELLED_TOPIC", "booking.appointment.cancelled.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload cancelledPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid cancelled payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" {
			logger.Error("missing cancelled fields")
			return nil
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := jobRepo.CancelByAppointment(ctx, tx, payload.AppointmentID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	go cancelledConsumer.Run(ctx)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "sweeper")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
