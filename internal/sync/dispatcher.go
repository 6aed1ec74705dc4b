// Package sync drives receipts into external record stores: a dispatcher
// that resolves destinations and invokes the matching adapter, a ledger
// transition per outcome, and a sweep that re-drives retryable failures.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/async"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/connections"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/metrics"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
)

type Dispatcher struct {
	receipts     repository.ReceiptRepository
	destinations repository.DestinationRepository
	ledger       repository.LedgerRepository
	conns        *connections.Service
	registry     Registry
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewDispatcher(
	receipts repository.ReceiptRepository,
	destinations repository.DestinationRepository,
	ledger repository.LedgerRepository,
	conns *connections.Service,
	registry Registry,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Dispatcher{
		receipts:     receipts,
		destinations: destinations,
		ledger:       ledger,
		conns:        conns,
		registry:     registry,
		metrics:      m,
		logger:       logger,
	}
}

// HandleSyncReceipt consumes one SYNC_RECEIPT message. Destination failures
// are isolated to that destination's ledger row and never fail the message;
// retry is ledger-driven, not queue-driven.
func (d *Dispatcher) HandleSyncReceipt(ctx context.Context, msg async.Message) error {
	receipt, err := d.receipts.GetByID(ctx, msg.ReceiptID)
	if err != nil {
		if repository.IsNotFound(err) {
			d.logger.Warn("sync.dispatch.receipt_missing", "receipt_id", msg.ReceiptID)
			return common.NotFoundError("receipt not found", err)
		}
		return err
	}

	targets, skipped, err := d.resolveDestinations(ctx, receipt, msg.DestinationIDs)
	if err != nil {
		return err
	}
	for _, dest := range skipped {
		d.markSkipped(ctx, receipt.ID, dest)
	}
	if len(targets) == 0 {
		d.logger.Info("sync.dispatch.no_destinations",
			"receipt_id", receipt.ID, "org_id", receipt.OrgID)
		return nil
	}

	for _, dest := range targets {
		d.syncOne(ctx, receipt, dest)
	}
	return nil
}

// resolveDestinations returns the Running destinations to sync to. With
// explicit ids, non-running ones are reported separately so their ledger
// rows can record why nothing happened.
func (d *Dispatcher) resolveDestinations(ctx context.Context, receipt *entity.Receipt, ids []uuid.UUID) (targets, skipped []*entity.Destination, err error) {
	if len(ids) == 0 {
		targets, err = d.destinations.ListRunning(ctx, receipt.OrgID)
		return targets, nil, err
	}
	for _, id := range ids {
		dest, err := d.destinations.GetByID(ctx, id)
		if err != nil {
			if repository.IsNotFound(err) {
				d.logger.Warn("sync.dispatch.destination_missing", "destination_id", id)
				continue
			}
			return nil, nil, err
		}
		if dest.OrgID != receipt.OrgID {
			d.logger.Warn("sync.dispatch.destination_wrong_org",
				"destination_id", id, "receipt_id", receipt.ID)
			continue
		}
		if dest.Status != constants.DestinationStatusRunning {
			skipped = append(skipped, dest)
			continue
		}
		targets = append(targets, dest)
	}
	return targets, skipped, nil
}

func (d *Dispatcher) markSkipped(ctx context.Context, receiptID uuid.UUID, dest *entity.Destination) {
	row, err := d.ledger.GetOrCreate(ctx, receiptID, dest.ID)
	if err != nil {
		d.logger.Error("sync.dispatch.ledger_error",
			"receipt_id", receiptID, "destination_id", dest.ID, "error", err)
		return
	}
	// A row that already went out stays SENT; skipping only annotates rows
	// that never made it.
	if row.Status == constants.SyncStatusSent {
		return
	}
	if err := d.ledger.MarkSkipped(ctx, row.ID, "destination not running", time.Now().UTC()); err != nil {
		d.logger.Error("sync.dispatch.ledger_error",
			"receipt_id", receiptID, "destination_id", dest.ID, "error", err)
	}
}

// syncOne performs the full attempt for one destination and persists the
// outcome. Nothing here returns an error: every path ends in a ledger
// transition.
func (d *Dispatcher) syncOne(ctx context.Context, receipt *entity.Receipt, dest *entity.Destination) {
	now := time.Now().UTC()
	log := d.logger.With("receipt_id", receipt.ID, "destination_id", dest.ID, "type", dest.Type)

	row, err := d.ledger.GetOrCreate(ctx, receipt.ID, dest.ID)
	if err != nil {
		log.Error("sync.dispatch.ledger_error", "error", err)
		return
	}

	// Classify: a prior SENT row means Modify, anything else is Add. An
	// archived receipt retracts instead.
	updateType := constants.UpdateTypeAdd
	if row.Status == constants.SyncStatusSent && row.ExternalID != "" {
		updateType = constants.UpdateTypeModify
	}
	if receipt.ArchivedAt != nil {
		updateType = constants.UpdateTypeRemove
	}

	adapter, ok := d.registry[dest.Type]
	if !ok {
		d.recordFailure(ctx, row, dest, nil, "no adapter for destination type", false, now)
		return
	}

	conn, err := d.resolveConnection(ctx, dest, receipt.OrgID)
	if err != nil {
		log.Error("sync.dispatch.connection_unresolved", "error", err)
		d.recordFailure(ctx, row, dest, nil, "destination has no usable connection: "+err.Error(), false, now)
		return
	}

	creds, err := d.conns.Credentials(ctx, conn)
	if err != nil {
		log.Error("sync.dispatch.credentials_failed", "error", err)
		if common.KindOf(err) == common.KindAuthorization {
			d.conns.RecordFailure(ctx, conn, err.Error())
		}
		d.recordFailure(ctx, row, dest, err, err.Error(), common.Retryable(err), now)
		return
	}

	log.Info("sync.dispatch.start", "update_type", updateType)
	result := adapter.Sync(ctx, Request{
		Receipt:            receipt,
		Destination:        dest,
		Credentials:        creds,
		UpdateType:         updateType,
		ExistingExternalID: row.ExternalID,
	})

	if result.Success {
		d.metrics.SyncAttempts.WithLabelValues(string(dest.Type), "success").Inc()
		if err := d.ledger.MarkSent(ctx, row.ID, result.ExternalID, now); err != nil {
			log.Error("sync.dispatch.ledger_error", "error", err)
		}
		if err := d.destinations.RecordSyncSuccess(ctx, dest.ID, now); err != nil {
			log.Error("sync.dispatch.destination_error", "error", err)
		}
		d.conns.RecordSuccess(ctx, conn)
		log.Info("sync.dispatch.ok", "external_id", result.ExternalID)
		return
	}

	message := "sync failed"
	if result.Err != nil {
		message = result.Err.Error()
	}
	// Authorization failures also count against the connection so the user
	// gets a reconnect prompt; rate limits and other transient errors must
	// not taint connection health.
	if common.KindOf(result.Err) == common.KindAuthorization {
		d.conns.RecordFailure(ctx, conn, message)
	}
	d.recordFailure(ctx, row, dest, result.Err, message, result.ShouldRetry, now)
}

func (d *Dispatcher) resolveConnection(ctx context.Context, dest *entity.Destination, orgID uuid.UUID) (*entity.Connection, error) {
	if dest.ConnectionID != nil {
		return d.conns.GetByID(ctx, *dest.ConnectionID)
	}
	return d.conns.GetByOrgService(ctx, orgID, dest.Type)
}

func (d *Dispatcher) recordFailure(ctx context.Context, row *entity.SyncedReceipt, dest *entity.Destination, cause error, message string, retryable bool, now time.Time) {
	d.metrics.SyncAttempts.WithLabelValues(string(dest.Type), "failure").Inc()
	if err := d.destinations.RecordSyncFailure(ctx, dest.ID, message, now); err != nil {
		d.logger.Error("sync.dispatch.destination_error", "destination_id", dest.ID, "error", err)
	}
	if retryable {
		status, err := d.ledger.MarkRetryable(ctx, row.ID, message, common.RetryAfterOf(cause), now)
		if err != nil {
			d.logger.Error("sync.dispatch.ledger_error", "ledger_id", row.ID, "error", err)
			return
		}
		d.logger.Warn("sync.dispatch.retryable_failure",
			"ledger_id", row.ID, "status", status, "error", message, "cause", cause)
		return
	}
	if err := d.ledger.MarkFailed(ctx, row.ID, message, now); err != nil {
		d.logger.Error("sync.dispatch.ledger_error", "ledger_id", row.ID, "error", err)
		return
	}
	d.logger.Warn("sync.dispatch.permanent_failure", "ledger_id", row.ID, "error", message)
}
