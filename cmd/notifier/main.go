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
	"github.com/anonto42/instaverse/backend/internal/notifier"
	"github.com/anonto42/instaverse/backend/internal/router"
	"github.com/anonto42/instaverse/backend/pkg/config"
	"github.com/anonto42/instaverse/backend/pkg/logger"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/anonto42/instaverse/backend/pkg/retry"
	"github.com/labstack/echo/v4"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateNotifier(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel)
	logr.Info("starting instaverse notifier", slog.String("queue", cfg.NotificationQueue))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.New()
	buffer := notifier.NewOfflineBuffer(metricsCollector)
	registry := notifier.NewRegistry(buffer, logr, metricsCollector, cfg.WriteTimeout)
	dispatcher := notifier.NewDispatcher(registry, logr, metricsCollector)
	consumer := notifier.NewConsumer(dispatcher, logr, metricsCollector)

	subscriber := broker.NewSubscriber(cfg.RabbitURL, cfg.NotificationQueue, cfg.ConsumerPrefetch, retry.Config{
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}, logr)

	e := echo.New()
	e.HideBanner = true
	config.SetupMiddleware(e, logr)
	router.SetupNotifierRoutes(e, registry, subscriber, metricsCollector, cfg.StreamOrigins, cfg.PingInterval, logr)

	go func() {
		if err := e.Start(":" + cfg.NotifierPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	// Run only returns once ctx is done; broker outages are retried inside.
	if err := subscriber.Run(ctx, consumer.HandleDelivery); err != nil {
		logr.Error("notification consumer exited", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
	logr.Info("instaverse notifier stopped")
}
