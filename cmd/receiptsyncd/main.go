package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/extract"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/extract/vision"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/metrics"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/pipeline"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/secrets"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/server"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/storage"
	syncpkg "github.com/Kriebel-LLC/receiptsync-sub000/internal/sync"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/sync/notion"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/sync/sheets"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment")
	}
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	if err := repository.Migrate(db); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	if err := repository.HealthCheck(ctx, pool, 3*time.Second, logger); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	receipts := repository.NewReceiptRepository(db, logger)
	dests := repository.NewDestinationRepository(db, logger)
	connRepo := repository.NewConnectionRepository(db, logger)
	ledger := repository.NewLedgerRepository(db, logger)

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
		async.WithMaxDeliveries(cfg.Queue.MaxDeliveries),
	)

	visionClient := vision.NewClient(vision.Config{
		BaseURL:     cfg.Vision.BaseURL,
		APIKey:      cfg.Vision.APIKey,
		Model:       cfg.Vision.Model,
		Temperature: cfg.Vision.Temperature,
		Timeout:     cfg.Vision.Timeout,
	}, logger)
	engine := extract.NewEngine(visionClient, cfg.Vision.Model, logger)
	processor := pipeline.NewProcessor(
		receipts,
		storage.NewFileStore(cfg.Storage.RootDir),
		extract.NewHasher(&http.Client{Timeout: 30 * time.Second}),
		extract.NewCache(receipts, logger),
		engine,
		queue,
		m,
		logger,
	)

	queue.Register(async.KindProcessReceipt, processor.HandleProcessReceipt)
	queue.Register(async.KindSyncReceipt, dispatcher.HandleSyncReceipt)
	queue.Start()

	scheduler := syncpkg.NewScheduler(ledger, queue, m, logger)
	go scheduler.Run(ctx)

	srv := server.New(server.Options{
		Addr:     cfg.Server.Addr,
		Logger:   logger,
		Pool:     pool,
		Queue:    queue,
		Receipts: receipts,
		Dests:    dests,
		Ledger:   ledger,
		Conns:    conns,
		Registry: registry,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}
