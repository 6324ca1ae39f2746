package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gojob/email-sender/internal/app"
	"github.com/gojob/email-sender/internal/config"
	"github.com/gojob/email-sender/internal/pkg/distlock"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/queue"
	"github.com/gojob/email-sender/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	consumer := queue.NewConsumer(a.Queue, worker.NewSendJobHandler(a.Emails),
		cfg.Queue.Concurrency, cfg.Queue.PollInterval())
	consumer.OnDead(worker.NewDeadJobHandler(a.Emails))
	if err := consumer.Start(ctx); err != nil {
		logger.Error("failed to start send consumer", "error", err)
		os.Exit(1)
	}

	// lock TTL outlives one scan so a slow sweep is not run twice
	lock := distlock.NewLock(a.Redis, a.DB, cfg.Queue.Prefix+":stuck-recovery", 2*time.Minute)
	recovery := worker.NewStuckSendRecovery(a.Emails, lock, cfg.Recovery.Interval(), cfg.Recovery.StaleAfter())
	recovery.Start(ctx)

	logger.Info("worker running",
		"concurrency", cfg.Queue.Concurrency,
		"poll_interval", cfg.Queue.PollInterval().String(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	recovery.Stop()
	// in-flight sends finish and ack before the connections close
	consumer.Stop()
	cancel()
	logger.Info("worker stopped")
}
