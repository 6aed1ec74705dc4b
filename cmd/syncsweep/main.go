// syncsweep runs a single retry sweep: every ledger row parked in
// PENDING_RETRY whose cooldown has elapsed is re-dispatched, then the
// process drains the queue and exits. Intended for cron-style scheduling
// alongside (or instead of) the daemon's built-in hourly sweep.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/metrics"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/secrets"
	syncpkg "github.com/Kriebel-LLC/receiptsync-sub000/internal/sync"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/sync/notion"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/sync/sheets"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, pool, err := repository.Open(ctx, repository.Config{
		DSN:         cfg.Database.DSN,
		MaxConns:    cfg.Database.MaxConns,
		DialTimeout: cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	receipts := repository.NewReceiptRepository(db, logger)
	dests := repository.NewDestinationRepository(db, logger)
	connRepo := repository.NewConnectionRepository(db, logger)
	ledger := repository.NewLedgerRepository(db, logger)
	m := metrics.NewUnregistered()

	box, err := secrets.NewBox(cfg.Secrets.CredentialKey)
	if err != nil {
		logger.Error("invalid credential key", "error", err)
		os.Exit(1)
	}
	conns := connections.NewService(connRepo, box, map[constants.DestinationType]connections.OAuthEndpoints{
		constants.DestinationTypeSheets: {
			ClientID:     cfg.OAuth.SheetsClientID,
			ClientSecret: cfg.OAuth.SheetsClientSecret,
			TokenURL:     cfg.OAuth.SheetsTokenURL,
		},
		constants.DestinationTypeNotion: {
			ClientID:     cfg.OAuth.NotionClientID,
			ClientSecret: cfg.OAuth.NotionClientSecret,
			TokenURL:     cfg.OAuth.NotionTokenURL,
		},
	}, logger)

	adapters := syncpkg.Registry{
		constants.DestinationTypeSheets: sheets.NewAdapter(sheets.NewClient("", logger), logger),
		constants.DestinationTypeNotion: notion.NewAdapter(notion.NewClient("", logger), logger),
	}
	dispatcher := syncpkg.NewDispatcher(receipts, dests, ledger, conns, adapters, m, logger)

	queue := async.NewWorkerQueue(logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)
	queue.Register(async.KindSyncReceipt, dispatcher.HandleSyncReceipt)
	queue.Start()

	scheduler := syncpkg.NewScheduler(ledger, queue, m, logger)
	n, err := scheduler.Sweep(ctx)
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	logger.Info("sweep complete", "requeued", n)

	queue.Shutdown(ctx)
}
