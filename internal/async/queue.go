package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates queue messages.
type Kind string

const (
	KindProcessReceipt Kind = "PROCESS_RECEIPT"
	KindSyncReceipt    Kind = "SYNC_RECEIPT"
)

// Message is the unit of work. Delivery is at-least-once: handlers must be
// idempotent with respect to redelivery of the same message.
type Message struct {
	Kind      Kind
	ReceiptID uuid.UUID
	OrgID     uuid.UUID
	// DestinationIDs narrows a SYNC_RECEIPT to specific destinations; empty
	// means all running destinations of the receipt's organization.
	DestinationIDs []uuid.UUID
	Priority       int
	Delivery       int // 0 on first delivery
	SubmittedAt    time.Time
	TraceID        string
}

// Handler processes one message. A retryable error triggers redelivery of
// this message only, up to the queue's delivery bound.
type Handler func(ctx context.Context, msg Message) error

type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Shutdown(ctx context.Context)
}
