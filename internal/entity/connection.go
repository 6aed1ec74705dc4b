package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
)

// Connection is an OAuth-backed credential bound to one organization and one
// external service. Token material is sealed at rest and decrypted only for
// the duration of a single outbound call.
type Connection struct {
	ID                uuid.UUID                  `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID             uuid.UUID                  `gorm:"type:uuid;index:idx_connections_org_service" json:"org_id"`
	Service           constants.DestinationType  `gorm:"index:idx_connections_org_service" json:"service"`
	Status            constants.ConnectionStatus `json:"status"`
	AccessCiphertext  []byte                     `json:"-"`
	RefreshCiphertext []byte                     `json:"-"`
	TokenExpiry       *time.Time                 `json:"token_expiry,omitempty"`
	AccountID         string                     `json:"account_id,omitempty"`
	WorkspaceName     string                     `json:"workspace_name,omitempty"`
	LastError         string                     `json:"last_error,omitempty"`
	FirstFailedAt     *time.Time                 `json:"first_failed_at,omitempty"`
	LastFailedAt      *time.Time                 `json:"last_failed_at,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

func (Connection) TableName() string { return "connections" }
