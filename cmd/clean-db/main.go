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

// clean-db empties the gatekeeper tables of a development database.
// With the "drop" argument the tables are dropped and recreated instead.
func main() {
	logger.InitLogger(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "text",
		ServiceName: "gatekeeper-clean-db",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.New(ctx, postgres.ConfigFrom(config.LoadDatabase()))
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if len(os.Args) > 1 && os.Args[1] == "drop" {
		if err := db.DropSchema(ctx); err != nil {
			slog.Error("failed to drop tables", logger.Error(err))
			os.Exit(1)
		}
		if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
			slog.Error("failed to recreate tables", logger.Error(err))
			os.Exit(1)
		}
		slog.Info("tables recreated")
		return
	}

	if err := db.Truncate(ctx); err != nil {
		slog.Error("failed to truncate tables", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("tables cleared")
}
