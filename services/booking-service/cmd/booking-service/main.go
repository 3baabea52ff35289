package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dk-marin/bookslot/libs/config"
	"github.com/dk-marin/bookslot/libs/db"
	"github.com/dk-marin/bookslot/libs/httpx"
	"github.com/dk-marin/bookslot/libs/kafkax"
	otelx "github.com/dk-marin/bookslot/libs/otel"
	"github.com/dk-marin/bookslot/libs/runtime"
	"github.com/dk-marin/bookslot/services/booking-service/internal/booking"
	"github.com/dk-marin/bookslot/services/booking-service/internal/handlers"
	"github.com/dk-marin/bookslot/services/booking-service/internal/outbox"
	"github.com/dk-marin/bookslot/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	lockWait := time.Duration(config.Int("BOOKING_LOCK_WAIT_MS", 3000)) * time.Millisecond
	store := storage.NewAppointmentStore(pool, outboxRepo, lockWait)
	catalog := storage.NewCatalogRepository(pool)

	manager := booking.NewManager(store, logger, booking.Config{
		AutoConfirm:     config.Bool("BOOKING_AUTO_CONFIRM", false),
		DefaultStepMins: config.Int("SLOT_STEP_MINUTES", 15),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	availabilityHandler := handlers.NewAvailabilityHandler(manager, logger)
	bookingHandler := handlers.NewBookingHandler(manager, logger)
	adminHandler := handlers.NewAdminHandler(catalog, logger)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/available-slots", availabilityHandler.Slots)
	mux.HandleFunc("/api/v1/public/appointments", bookingHandler.Create)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/admin/providers", adminHandler.CreateProvider)
	mux.HandleFunc("/api/v1/admin/providers/deactivate", adminHandler.DeactivateProvider)
	mux.HandleFunc("/api/v1/admin/services", servicesRoute(adminHandler))
	mux.HandleFunc("/api/v1/admin/working-hours", workingHoursRoute(adminHandler))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecovery(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 64<<10))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 15))*time.Second),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", "*"), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Content-Type"},
		}),
		rateLimitMiddleware(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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

// rateLimitMiddleware prefers the shared Redis fixed-window limiter; without
// REDIS_ADDR each instance falls back to its own in-memory window.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking:rl").
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}

func servicesRoute(h *handlers.AdminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListServices(w, r)
		default:
			h.CreateService(w, r)
		}
	}
}

func workingHoursRoute(h *handlers.AdminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetWorkingHours(w, r)
		default:
			h.PutWorkingHours(w, r)
		}
	}
}
