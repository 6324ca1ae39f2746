package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gojob/email-sender/internal/api"
	"github.com/gojob/email-sender/internal/app"
	"github.com/gojob/email-sender/internal/config"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/repository/postgres"
	"github.com/gojob/email-sender/internal/service/tracking"
)

// The tracking service answers pixel and click requests on its own port so
// that open traffic from mail clients never competes with the dashboard API.
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

	db, err := app.OpenDB(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	signer := tracking.NewSigner(cfg.Tracking.BaseURL, cfg.Tracking.SigningKey)
	recorder := tracking.NewRecorder(postgres.NewTrackingRepo(db), signer)
	router := api.SetupTrackingRoutes(api.NewTrackingHandler(recorder), api.NewHealthChecker(db, nil, nil, nil))

	addr := cfg.Server.TrackingAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("tracking shutdown", "error", err)
	}
}
