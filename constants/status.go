package constants

// ReceiptStatus is the canonical lifecycle status for rows in receipts.
type ReceiptStatus string

// Stable values (store these exact strings in DB).
const (
	ReceiptStatusPending    ReceiptStatus = "PENDING"    // created by ingestion, not yet processed
	ReceiptStatusProcessing ReceiptStatus = "PROCESSING" // extraction in progress
	ReceiptStatusExtracted  ReceiptStatus = "EXTRACTED"  // fields extracted successfully
	ReceiptStatusFailed     ReceiptStatus = "FAILED"     // terminal extraction failure
)

// ConnectionStatus is the health status for rows in connections.
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "ACTIVE"
	ConnectionStatusWarning  ConnectionStatus = "WARNING"  // failures persisted past the escalation window
	ConnectionStatusDisabled ConnectionStatus = "DISABLED" // terminal until explicit reactivation
	ConnectionStatusArchived ConnectionStatus = "ARCHIVED" // terminal until explicit reactivation
)

// DestinationStatus is the status for rows in destinations.
type DestinationStatus string

const (
	DestinationStatusRunning  DestinationStatus = "RUNNING"
	DestinationStatusPaused   DestinationStatus = "PAUSED"
	DestinationStatusArchived DestinationStatus = "ARCHIVED"
)

// SyncStatus is the status for rows in synced_receipts.
type SyncStatus string

const (
	SyncStatusPending      SyncStatus = "PENDING"
	SyncStatusSent         SyncStatus = "SENT"
	SyncStatusFailed       SyncStatus = "FAILED"
	SyncStatusPendingRetry SyncStatus = "PENDING_RETRY"
	SyncStatusSkipped      SyncStatus = "SKIPPED"
)

// DestinationType enumerates the supported external record stores. The same
// values identify the OAuth service on connections.
type DestinationType string

const (
	DestinationTypeSheets DestinationType = "SHEETS"
	DestinationTypeNotion DestinationType = "NOTION"
)

func (t DestinationType) Valid() bool {
	switch t {
	case DestinationTypeSheets, DestinationTypeNotion:
		return true
	}
	return false
}

// UpdateType tells an adapter which idempotent operation to perform.
type UpdateType string

const (
	UpdateTypeAdd    UpdateType = "ADD"
	UpdateTypeModify UpdateType = "MODIFY"
	UpdateTypeRemove UpdateType = "REMOVE"
)
