package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const dialTimeout = 10 * time.Second

// Stores holds the API server's storage connections. Redis is nil unless the
// dedup ledger lives there.
type Stores struct {
	Postgres *gorm.DB
	Mongo    *mongo.Client
	Stories  *mongo.Database
	Redis    *redis.Client

	logger *slog.Logger
}

// OpenStores connects every store cfg asks for. On error the stores opened so
// far are closed again.
func OpenStores(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Stores, err error) {
	s := &Stores{logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Postgres, err = openPostgres(ctx, cfg.PostgresConnStr); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	logger.Info("connected to postgres")

	if s.Mongo, err = openMongo(ctx, cfg.MongoURI); err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	s.Stories = s.Mongo.Database(cfg.MongoDatabase)
	logger.Info("connected to mongo", slog.String("database", cfg.MongoDatabase))

	if cfg.LedgerBackend == "redis" {
		if s.Redis, err = openRedis(ctx, cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to redis", slog.String("addr", cfg.RedisURL))
	}
	return s, nil
}

func openPostgres(ctx context.Context, connStr string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func openMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Close releases every open connection.
func (s *Stores) Close() {
	var errs []error
	if s.Postgres != nil {
		if sqlDB, err := s.Postgres.DB(); err != nil {
			errs = append(errs, err)
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if s.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongo: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("failed to close stores", slog.Any("error", err))
		return
	}
	s.logger.Info("stores closed")
}
