// dbhealth pings the configured database and exits non-zero on failure.
// Useful as a container readiness probe.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, pool, err := repository.Open(ctx, repository.Config{
		DSN:         cfg.Database.DSN,
		MaxConns:    2,
		DialTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	if err := repository.HealthCheck(ctx, pool, 3*time.Second, logger); err != nil {
		logger.Error("health check failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database healthy")
}
