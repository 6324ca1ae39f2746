// Package app wires configuration into the stores and services the
// server and worker binaries run.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/gojob/email-sender/internal/config"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/queue"
	"github.com/gojob/email-sender/internal/repository/postgres"
	"github.com/gojob/email-sender/internal/service/email"
	"github.com/gojob/email-sender/internal/service/quota"
	"github.com/gojob/email-sender/internal/service/sending"
	"github.com/gojob/email-sender/internal/service/tracking"
	"github.com/gojob/email-sender/internal/service/transport"
	"github.com/gojob/email-sender/internal/storage"
)

// App holds the shared connections and services.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Redis    redis.UniversalClient
	Blobs    storage.BlobStore
	Queue    *queue.Queue
	Ledger   *quota.Ledger
	Resolver *transport.Resolver
	Recorder *tracking.Recorder
	Emails   *email.Service
}

// SetupLogging applies the logging config to the package logger.
func SetupLogging(cfg config.LoggingConfig) {
	logger.Setup(os.Stderr, cfg.Format, logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.Redact())
}

// OpenDB connects to Postgres and verifies the connection.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// New connects to Postgres, Redis and blob storage and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}
	a := Build(cfg, db, rdb, blobs)
	logger.Info("services initialized",
		"storage", cfg.Storage.Backend,
		"queue_prefix", cfg.Queue.Prefix,
		"tracking_base_url", cfg.Tracking.BaseURL,
	)
	return a, nil
}

// Build assembles the services over already-open connections.
func Build(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient, blobs storage.BlobStore) *App {
	users := postgres.NewUserRepo(db)
	signer := tracking.NewSigner(cfg.Tracking.BaseURL, cfg.Tracking.SigningKey)

	q := queue.New(rdb, queue.Options{
		Prefix:      cfg.Queue.Prefix,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase(),
		Visibility:  cfg.Queue.VisibilityTimeout(),
	})
	ledger := quota.NewLedger(users)
	resolver := transport.NewResolver(users, transport.Options{
		DialTimeout: cfg.SMTP.DialTimeout(),
		HeloName:    cfg.SMTP.HeloName,
	}, cfg.SMTP.CacheTTL())

	svc := email.NewService(email.Deps{
		Repo:       postgres.NewEmailRepo(db),
		Users:      users,
		Files:      postgres.NewFileRepo(db),
		Blobs:      blobs,
		Quota:      ledger,
		Transports: resolver,
		Sender:     sending.NewBulkSender(cfg.SMTP.MessageTimeout()),
		Scheduler:  q,
		Decorator:  tracking.NewInjector(signer),
	})

	return &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Blobs:    blobs,
		Queue:    q,
		Ledger:   ledger,
		Resolver: resolver,
		Recorder: tracking.NewRecorder(postgres.NewTrackingRepo(db), signer),
		Emails:   svc,
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
}
