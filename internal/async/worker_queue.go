package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
)

var (
	// ErrQueueFull is returned when the buffer is at capacity. The queue
	// never blocks the sender: handlers enqueue follow-up work from worker
	// goroutines, and a blocking send from a worker can leave no worker
	// receiving.
	ErrQueueFull = errors.New("queue at capacity")

	ErrQueueClosed = errors.New("queue is shut down")
)

// WorkerQueue is a channel-backed pool dispatching messages to registered
// per-kind handlers. Each message is processed independently; one message's
// failure only redelivers that message.
type WorkerQueue struct {
	logger        *slog.Logger
	workers       int
	timeout       time.Duration
	maxDeliveries int

	handlers map[Kind]Handler
	ch       chan Message
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*WorkerQueue)

func WithWorkers(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.ch = make(chan Message, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *WorkerQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithMaxDeliveries(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.maxDeliveries = n
		}
	}
}

func NewWorkerQueue(logger *slog.Logger, opts ...Option) *WorkerQueue {
	q := &WorkerQueue{
		logger:        logger,
		workers:       4,
		timeout:       3 * time.Minute,
		maxDeliveries: 3,
		handlers:      make(map[Kind]Handler),
		ch:            make(chan Message, 256),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Register binds a handler to a message kind. Must be called before Start.
func (q *WorkerQueue) Register(kind Kind, h Handler) {
	q.handlers[kind] = h
}

// Start launches the worker pool. Safe to call once.
func (q *WorkerQueue) Start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for msg := range q.ch {
					q.process(workerID, msg)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *WorkerQueue) process(workerID int, msg Message) {
	h, ok := q.handlers[msg.Kind]
	if !ok {
		q.logger.Error("no handler for message kind", "worker_id", workerID, "kind", msg.Kind)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := h(ctx, msg)
	cancel()

	if err == nil {
		q.logger.Info("message processed",
			"worker_id", workerID, "kind", msg.Kind, "receipt_id", msg.ReceiptID)
		return
	}

	q.logger.Error("message processing failed",
		"worker_id", workerID, "kind", msg.Kind, "receipt_id", msg.ReceiptID,
		"delivery", msg.Delivery, "error", err)

	if !common.Retryable(err) {
		return
	}
	if msg.Delivery+1 >= q.maxDeliveries {
		q.logger.Warn("message delivery bound reached",
			"kind", msg.Kind, "receipt_id", msg.ReceiptID, "deliveries", msg.Delivery+1)
		return
	}

	redelivery := msg
	redelivery.Delivery++
	switch q.trySend(redelivery) {
	case nil:
		q.logger.Info("message requeued",
			"kind", msg.Kind, "receipt_id", msg.ReceiptID, "delivery", redelivery.Delivery)
	case ErrQueueFull:
		// Dropping here is safe: the ledger sweeper re-drives sync work and
		// pending receipts can be re-enqueued by the caller.
		q.logger.Warn("queue full, dropping redelivery",
			"kind", msg.Kind, "receipt_id", msg.ReceiptID)
	}
}

func (q *WorkerQueue) Enqueue(_ context.Context, msg Message) error {
	if msg.SubmittedAt.IsZero() {
		msg.SubmittedAt = time.Now().UTC()
	}
	err := q.trySend(msg)
	switch err {
	case nil:
		q.logger.Info("message queued", "kind", msg.Kind, "receipt_id", msg.ReceiptID)
	case ErrQueueClosed:
		q.logger.Warn("cannot enqueue: queue is shutting down",
			"kind", msg.Kind, "receipt_id", msg.ReceiptID)
		return nil
	case ErrQueueFull:
		q.logger.Warn("queue full, rejecting message",
			"kind", msg.Kind, "receipt_id", msg.ReceiptID)
	}
	return err
}

// trySend offers msg to the buffer without blocking. The mutex is held
// across the send so Shutdown cannot close the channel mid-send, and a
// worker enqueueing follow-up work can never wedge the pool on a full
// buffer.
func (q *WorkerQueue) trySend(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *WorkerQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
