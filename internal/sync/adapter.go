package sync

import (
	"context"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
)

// Request is one idempotent adapter invocation: push (or retract) one
// receipt to one configured destination using frame-scoped credentials.
type Request struct {
	Receipt            *entity.Receipt
	Destination        *entity.Destination
	Credentials        connections.Credentials
	UpdateType         constants.UpdateType
	ExistingExternalID string
}

// Result reports the outcome. ShouldRetry distinguishes transient failures
// (rate limiting, network) from permanent ones (bad configuration,
// not-found, authorization).
type Result struct {
	Success     bool
	ExternalID  string
	Err         error
	ShouldRetry bool
}

// Adapter is the per-destination-type sync capability. Implementations must
// be idempotent: repeating an Add for the same (receipt, destination) pair
// must not create a second external record.
type Adapter interface {
	Sync(ctx context.Context, req Request) Result
}

// Registry is the tagged-union dispatch point: one adapter per destination
// type, resolved once at the dispatcher boundary.
type Registry map[constants.DestinationType]Adapter
