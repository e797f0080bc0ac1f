// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/Shivanand-hulikatti/community-registration/internal/config"
	"github.com/Shivanand-hulikatti/community-registration/internal/database"
	"github.com/Shivanand-hulikatti/community-registration/internal/handler"
	"github.com/Shivanand-hulikatti/community-registration/internal/repository"
	"github.com/Shivanand-hulikatti/community-registration/internal/service"
	"github.com/Shivanand-hulikatti/community-registration/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// ── 1. Connect to PostgreSQL and apply the schema ─────────────────────
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")

	// ── 2. Event producer (optional broker) ───────────────────────────────
	var publisher rabbitmq.Publisher = &rabbitmq.NopPublisher{Logger: logger}
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable, events disabled", "error", err)
		} else {
			publisher = producer
		}
	}
	defer publisher.Close()

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	store := repository.NewPostgres(pool)
	svc := service.NewRegistrationService(store, publisher, logger)
	regHandler := handler.NewRegistrationHandler(svc)

	// ── 4. Counter reconciliation schedule ────────────────────────────────
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	if _, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = svc.ReconcileCounters(jobCtx)
	}); err != nil {
		logger.Error("schedule reconciliation job", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// ── 5. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(logger))
	r.Use(handler.CORS())

	r.Get("/health", handler.HealthCheck)

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(handler.BearerAuth(cfg.JWTSecret))
		}

		r.Route("/offerings", func(r chi.Router) {
			r.Post("/", regHandler.CreateOffering)
			r.Get("/", regHandler.ListOfferings)
			r.Get("/{id}", regHandler.GetOffering)
			r.Delete("/{id}", regHandler.DeactivateOffering)
			r.Post("/{id}/subscribe", regHandler.Subscribe)
			r.Post("/{id}/fund", regHandler.Fund)
			r.Get("/{id}/subscriptions", regHandler.ListSubscriptions)
		})
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/{id}", regHandler.GetSubscription)
			r.Post("/{id}/status", regHandler.ChangeStatus)
		})
	})

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
