package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"mealshare/internal/auth"
	"mealshare/internal/catalog"
	catalogapi "mealshare/internal/catalog/api"
	catalogdb "mealshare/internal/catalog/db"
	"mealshare/internal/config"
	"mealshare/internal/database/migrations"
	"mealshare/internal/kafka"
	"mealshare/internal/ledger"
	"mealshare/internal/logger"
	"mealshare/internal/pickup"
	"mealshare/internal/reservation"
	reservationapi "mealshare/internal/reservation/api"
	reservationdb "mealshare/internal/reservation/db"
	redislock "mealshare/internal/reservation/redis"
	"mealshare/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger("mealshare")
	defer log.Close()

	ctx := context.Background()

	// --- PostgreSQL ---
	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Error("STARTUP", fmt.Sprintf("open postgres: %v", err))
		os.Exit(1)
	}
	defer sqldb.Close()

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Error("STARTUP", fmt.Sprintf("ping postgres: %v", err))
		os.Exit(1)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, os.Getenv("MIGRATIONS_DIR"), log)
	if err := runner.Up(); err != nil {
		log.Error("STARTUP", fmt.Sprintf("migrations: %v", err))
		os.Exit(1)
	}

	// --- Redis ---
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("STARTUP", fmt.Sprintf("ping redis: %v", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// --- Kafka ---
	var publisher reservation.Publisher = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.ReservationConfirmed,
			cfg.Kafka.Topics.ReservationCancelled,
			cfg.Kafka.Topics.EventDeleted,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("STARTUP", fmt.Sprintf("kafka topic setup: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		publisher = producer
	} else {
		log.Warn("STARTUP", "kafka disabled, domain messages will be dropped")
	}

	// --- Services ---
	eventDB := &catalogdb.DB{Bun: bunDB}
	reservationDB := &reservationdb.DB{Bun: bunDB}
	capLedger := &ledger.Ledger{Bun: bunDB, Log: log}
	lock := redislock.NewLock(redisClient)
	qrGen := pickup.NewQRGenerator(cfg.Pickup.QRSecret)

	catalogService := catalog.NewService(eventDB, publisher, cfg.Kafka.Topics, log)
	reservationService := reservation.NewService(
		reservationDB, eventDB, capLedger, lock, publisher, cfg.Kafka.Topics, log)

	catalogHandler := &catalogapi.Handler{Catalog: catalogService, Reservations: reservationService}
	reservationHandler := &reservationapi.Handler{Reservations: reservationService, QR: qrGen}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(requestLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.WriteSuccess(w, http.StatusOK, "ok", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Browsing is open; everything that writes or is user-scoped
		// requires a bearer token.
		r.Get("/events", catalogHandler.ListEvents)
		r.Get("/events/{eventId}", catalogHandler.GetEvent)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))

			r.Post("/events", catalogHandler.CreateEvent)
			r.Put("/events/{eventId}", catalogHandler.UpdateEvent)
			r.Delete("/events/{eventId}", catalogHandler.DeleteEvent)
			r.Get("/events/user/{userId}", catalogHandler.UserDashboard)

			r.Post("/events/{eventId}/reserve", reservationHandler.Reserve)
			r.Delete("/events/{eventId}/reserve", reservationHandler.Cancel)
			r.Get("/events/{eventId}/reserve/qr", reservationHandler.PickupQR)
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("STARTUP", fmt.Sprintf("listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("STARTUP", fmt.Sprintf("http server: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SHUTDOWN", "signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("SHUTDOWN", fmt.Sprintf("forced shutdown: %v", err))
	}
	log.Info("SHUTDOWN", "server exited")
}

// requestLog records each handled request with its status and latency.
func requestLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			log.LogAPI(r.Method, r.URL.Path,
				fmt.Sprintf("%d", recorder.status), time.Since(start).String())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
