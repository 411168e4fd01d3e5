package router

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/anonto42/instaverse/backend/internal/handlers"
	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/internal/notifier"
	"github.com/anonto42/instaverse/backend/internal/repositories"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// SetupRoutes configures the API server routes and injects dependencies
func SetupRoutes(e *echo.Echo, pgdb *gorm.DB, mgDB *mongo.Database, auth echo.MiddlewareFunc, likeNotifier handlers.LikeNotifier, m *metrics.Metrics, logger *slog.Logger) error {
	if err := pgdb.AutoMigrate(&models.User{}, &models.Like{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	logger.Info("postgres migrations applied")

	e.GET("/health", handlers.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	userRepo := repositories.NewPostgresUserRepository(pgdb)
	likeRepo := repositories.NewPostgresLikeRepository(pgdb)
	postRepo := repositories.NewMongoPostRepository(mgDB)

	api := e.Group("/api/v1")
	api.Use(auth)

	likeHandler := handlers.NewLikeHandler(likeRepo, postRepo, userRepo, likeNotifier, logger)
	likeHandler.RegisterLikeRoutes(api)
	logger.Info("like routes configured", slog.String("prefix", "/api/v1"))

	return nil
}

// SetupNotifierRoutes configures the notifier's stream, health and metrics routes
func SetupNotifierRoutes(e *echo.Echo, registry *notifier.Registry, queue handlers.NotifierStatus, m *metrics.Metrics, origins []string, pingInterval time.Duration, logger *slog.Logger) {
	e.GET("/health", handlers.NotifierHealthCheck(queue, registry, time.Now()))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	streamHandler := handlers.NewStreamHandler(registry, origins, pingInterval, logger)
	streamHandler.RegisterStreamRoutes(e)
	logger.Info("stream routes configured", slog.Any("paths", []string{"/", "/ws"}))
}
