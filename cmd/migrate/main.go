package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/gojob/email-sender/internal/app"
	"github.com/gojob/email-sender/internal/config"
	"github.com/gojob/email-sender/internal/pkg/logger"
	"github.com/gojob/email-sender/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	dir := flag.String("dir", "", "migrations directory (defaults to database.migrations_dir)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg.Logging)
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if *dir == "" {
		*dir = cfg.Database.MigrationsDir
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := app.OpenDB(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := postgres.Migrate(ctx, db, os.DirFS(*dir))
	for _, name := range applied {
		logger.Info("migration applied", "file", name)
	}
	if err != nil {
		logger.Error("migration failed", "dir", *dir, "error", err)
		db.Close()
		os.Exit(1)
	}
	logger.Info("migrations complete", "dir", *dir, "applied", len(applied))
}
