package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
)

// LedgerRepository manages synced_receipts rows. All status transitions run
// through here; the composite unique key keeps one row per
// (receipt, destination) pair no matter how often a message is redelivered.
type LedgerRepository interface {
	// GetOrCreate returns the row for the pair, creating a PENDING one on
	// first contact. Safe under concurrent calls for the same pair.
	GetOrCreate(ctx context.Context, receiptID, destinationID uuid.UUID) (*entity.SyncedReceipt, error)
	Get(ctx context.Context, receiptID, destinationID uuid.UUID) (*entity.SyncedReceipt, error)
	ListByReceipt(ctx context.Context, receiptID uuid.UUID) ([]*entity.SyncedReceipt, error)
	MarkSent(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	// MarkRetryable increments the retry count and parks the row in
	// PENDING_RETRY, or FAILED once the bound is reached. The next attempt
	// is scheduled one cool-down out, or later when the server asked for a
	// longer backoff via retryAfter.
	MarkRetryable(ctx context.Context, id uuid.UUID, message string, retryAfter time.Duration, at time.Time) (constants.SyncStatus, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	// ListDueForRetry selects PENDING_RETRY rows under the retry bound whose
	// backoff window has elapsed.
	ListDueForRetry(ctx context.Context, now time.Time) ([]*entity.SyncedReceipt, error)
}

type ledgerRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLedgerRepository(db *gorm.DB, logger *slog.Logger) LedgerRepository {
	return &ledgerRepository{db: db, logger: logger}
}

func (r *ledgerRepository) GetOrCreate(ctx context.Context, receiptID, destinationID uuid.UUID) (*entity.SyncedReceipt, error) {
	row := &entity.SyncedReceipt{
		ID:            uuid.New(),
		ReceiptID:     receiptID,
		DestinationID: destinationID,
		Status:        constants.SyncStatusPending,
	}
	// Insert-or-ignore against the unique pair index, then read back
	// whichever row won.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "receipt_id"}, {Name: "destination_id"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, receiptID, destinationID)
}

func (r *ledgerRepository) Get(ctx context.Context, receiptID, destinationID uuid.UUID) (*entity.SyncedReceipt, error) {
	var row entity.SyncedReceipt
	err := r.db.WithContext(ctx).
		Where("receipt_id = ? AND destination_id = ?", receiptID, destinationID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *ledgerRepository) ListByReceipt(ctx context.Context, receiptID uuid.UUID) ([]*entity.SyncedReceipt, error) {
	var out []*entity.SyncedReceipt
	err := r.db.WithContext(ctx).
		Where("receipt_id = ?", receiptID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (r *ledgerRepository) MarkSent(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.SyncedReceipt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          constants.SyncStatusSent,
			"external_id":     externalID,
			"error":           "",
			"last_attempt_at": at,
			"synced_at":       at,
		}).Error
}

func (r *ledgerRepository) MarkSkipped(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.SyncedReceipt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          constants.SyncStatusSkipped,
			"error":           reason,
			"last_attempt_at": at,
		}).Error
}

func (r *ledgerRepository) MarkRetryable(ctx context.Context, id uuid.UUID, message string, retryAfter time.Duration, at time.Time) (constants.SyncStatus, error) {
	backoff := constants.RetryCooldown
	if retryAfter > backoff {
		backoff = retryAfter
	}
	var status constants.SyncStatus
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entity.SyncedReceipt
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		count := row.RetryCount + 1
		status = constants.SyncStatusPendingRetry
		if count >= constants.MaxSyncRetries {
			status = constants.SyncStatusFailed
		}
		return tx.Model(&entity.SyncedReceipt{}).Where("id = ?", id).Updates(map[string]any{
			"status":          status,
			"error":           message,
			"retry_count":     count,
			"last_attempt_at": at,
			"next_retry_at":   at.Add(backoff),
		}).Error
	})
	if err != nil {
		return "", err
	}
	if status == constants.SyncStatusFailed {
		r.logger.Warn("sync retries exhausted", "ledger_id", id, "error", message)
	}
	return status, nil
}

func (r *ledgerRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.SyncedReceipt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          constants.SyncStatusFailed,
			"error":           message,
			"last_attempt_at": at,
		}).Error
}

func (r *ledgerRepository) ListDueForRetry(ctx context.Context, now time.Time) ([]*entity.SyncedReceipt, error) {
	var out []*entity.SyncedReceipt
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", constants.SyncStatusPendingRetry, constants.MaxSyncRetries).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("receipt_id asc").
		Find(&out).Error
	return out, err
}

// IsNotFound reports whether err is the record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
