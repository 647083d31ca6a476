package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/besttravel/gatekeeper/internal/config"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"github.com/besttravel/gatekeeper/internal/store/postgres"
)

// migrate applies the embedded schema to the database named by the DB_* variables.
func main() {
	logger.InitLogger(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "text",
		ServiceName: "gatekeeper-migrate",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := postgres.New(ctx, postgres.ConfigFrom(config.LoadDatabase()))
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		slog.Error("migration failed", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("schema is up to date", logger.Component("migrate"))
}
