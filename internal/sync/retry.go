package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/metrics"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
)

// Scheduler periodically re-queues ledger entries parked in PENDING_RETRY.
// It is the only scheduled actor in the pipeline; everything else reacts to
// queue messages.
type Scheduler struct {
	ledger   repository.LedgerRepository
	queue    async.Queue
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(ledger repository.LedgerRepository, queue async.Queue, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ledger:   ledger,
		queue:    queue,
		metrics:  m,
		interval: constants.RetrySweepInterval,
		logger:   logger,
	}
}

// Run sweeps on the configured cadence until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("retry scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("retry.sweep.failed", "error", err)
			}
		}
	}
}

// Sweep selects due PENDING_RETRY entries, groups them by receipt to keep
// dispatch overhead down, and re-enqueues one SYNC_RECEIPT per receipt
// naming only the destinations that are due. Returns how many entries were
// re-queued. Entries at the retry bound are never selected.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.ledger.ListDueForRetry(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		s.logger.Debug("retry.sweep.empty")
		return 0, nil
	}

	byReceipt := make(map[uuid.UUID][]uuid.UUID)
	order := make([]uuid.UUID, 0, len(due))
	for _, row := range due {
		if _, seen := byReceipt[row.ReceiptID]; !seen {
			order = append(order, row.ReceiptID)
		}
		byReceipt[row.ReceiptID] = append(byReceipt[row.ReceiptID], row.DestinationID)
	}

	requeued := 0
	for _, receiptID := range order {
		msg := async.Message{
			Kind:           async.KindSyncReceipt,
			ReceiptID:      receiptID,
			DestinationIDs: byReceipt[receiptID],
		}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			s.logger.Error("retry.sweep.enqueue_failed", "receipt_id", receiptID, "error", err)
			continue
		}
		requeued += len(byReceipt[receiptID])
	}
	s.metrics.RetryRequeued.Add(float64(requeued))
	s.logger.Info("retry.sweep.ok", "entries", requeued, "receipts", len(order))
	return requeued, nil
}
