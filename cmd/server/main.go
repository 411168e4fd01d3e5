package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/instaverse/backend/internal/broker"
	"github.com/anonto42/instaverse/backend/internal/middleware"
	"github.com/anonto42/instaverse/backend/internal/notifier"
	"github.com/anonto42/instaverse/backend/internal/router"
	"github.com/anonto42/instaverse/backend/pkg/config"
	"github.com/anonto42/instaverse/backend/pkg/firebase"
	"github.com/anonto42/instaverse/backend/pkg/logger"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/labstack/echo/v4"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	logr.Info("starting instaverse api", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := config.OpenStores(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("Failed to initialize databases: %v", err)
	}
	defer stores.Close()

	auth, err := authMiddleware(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize authentication: %v", err)
	}

	ledger := newLedger(stores)
	metricsCollector := metrics.New()

	// The broker is dialed lazily; the API starts even when RabbitMQ is down.
	publisher := broker.NewPublisher(cfg.RabbitURL, cfg.NotificationQueue, cfg.PublishTimeout, logr)
	defer publisher.Close()
	producer := notifier.NewProducer(publisher, ledger, cfg.PublishTimeout, logr, metricsCollector)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	config.SetupMiddleware(e, logr)

	if err := router.SetupRoutes(e, stores.Postgres, stores.Stories, auth, producer, metricsCollector, logr); err != nil {
		log.Fatalf("Failed to configure routes: %v", err)
	}

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
	logr.Info("instaverse api stopped")
}

func authMiddleware(ctx context.Context, cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.AuthProvider == "firebase" {
		client, err := firebase.NewAuthClient(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			return nil, err
		}
		return middleware.FirebaseAuthMiddleware(client), nil
	}
	return middleware.JWTAuthMiddleware(cfg.JWTSecret), nil
}

// newLedger shares the dedup ledger through Redis when one is configured.
func newLedger(stores *config.Stores) notifier.Ledger {
	if stores.Redis != nil {
		return notifier.NewRedisLedger(stores.Redis)
	}
	return notifier.NewMemoryLedger()
}
