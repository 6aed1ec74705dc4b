package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
)

// SyncedReceipt is the ledger row for one (receipt, destination) pair. The
// composite unique index is the invariant that makes duplicate queue
// deliveries harmless: there is never more than one row per pair.
type SyncedReceipt struct {
	ID            uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	ReceiptID     uuid.UUID            `gorm:"type:uuid;uniqueIndex:uniq_receipt_destination" json:"receipt_id"`
	DestinationID uuid.UUID            `gorm:"type:uuid;uniqueIndex:uniq_receipt_destination" json:"destination_id"`
	Status        constants.SyncStatus `gorm:"index" json:"status"`
	ExternalID    string               `json:"external_id,omitempty"`
	Error         string               `json:"error,omitempty"`
	RetryCount    int                  `json:"retry_count"`
	LastAttemptAt *time.Time           `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time           `json:"next_retry_at,omitempty"`
	SyncedAt      *time.Time           `json:"synced_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (SyncedReceipt) TableName() string { return "synced_receipts" }
