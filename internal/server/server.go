// Package server exposes the HTTP surface: receipt intake, manual sync,
// read paths for receipts and their sync ledger, and destination /
// connection administration.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
)

type Server struct {
	engine   *gin.Engine
	http     *http.Server
	logger   *slog.Logger
	pool     *pgxpool.Pool
	queue    async.Queue
	receipts repository.ReceiptRepository
	dests    repository.DestinationRepository
	ledger   repository.LedgerRepository
	conns    *connections.Service
}

type Options struct {
	Addr     string
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Queue    async.Queue
	Receipts repository.ReceiptRepository
	Dests    repository.DestinationRepository
	Ledger   repository.LedgerRepository
	Conns    *connections.Service
	Registry *prometheus.Registry
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(opts.Logger))

	s := &Server{
		engine:   engine,
		logger:   opts.Logger,
		pool:     opts.Pool,
		queue:    opts.Queue,
		receipts: opts.Receipts,
		dests:    opts.Dests,
		ledger:   opts.Ledger,
		conns:    opts.Conns,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	engine.GET("/healthz", s.healthz)
	if opts.Registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/receipts", s.createReceipt)
		v1.GET("/receipts/:id", s.getReceipt)
		v1.POST("/receipts/:id/sync", s.syncReceipt)
		v1.GET("/receipts/:id/syncs", s.listSyncs)

		v1.POST("/destinations", s.createDestination)
		v1.PATCH("/destinations/:id", s.patchDestination)

		v1.POST("/connections", s.createConnection)
		v1.POST("/connections/:id/reactivate", s.reactivateConnection)
	}

	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	if s.pool != nil {
		if err := repository.HealthCheck(c.Request.Context(), s.pool, 2*time.Second, s.logger); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
