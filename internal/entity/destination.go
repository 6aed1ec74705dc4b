package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
)

// Destination is a configured sync target for one organization.
type Destination struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID         uuid.UUID                   `gorm:"type:uuid;index" json:"org_id"`
	Type          constants.DestinationType   `json:"type"`
	Status        constants.DestinationStatus `gorm:"index" json:"status"`
	Config        datatypes.JSON              `json:"config"`
	ConnectionID  *uuid.UUID                  `gorm:"type:uuid" json:"connection_id,omitempty"`
	LastSyncedAt  *time.Time                  `json:"last_synced_at,omitempty"`
	LastError     string                      `json:"last_error,omitempty"`
	FirstFailedAt *time.Time                  `json:"first_failed_at,omitempty"`
	LastFailedAt  *time.Time                  `json:"last_failed_at,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

func (Destination) TableName() string { return "destinations" }

// SheetsConfig is the typed view of Config for SHEETS destinations.
type SheetsConfig struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetName     string `json:"sheet_name"`
	SheetID       int64  `json:"sheet_id"`
}

// NotionConfig is the typed view of Config for NOTION destinations.
// FieldMapping maps receipt field names to database property ids or names.
type NotionConfig struct {
	DatabaseID   string            `json:"database_id"`
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
}

func (d *Destination) SheetsConfig() (SheetsConfig, error) {
	var cfg SheetsConfig
	err := json.Unmarshal(d.Config, &cfg)
	return cfg, err
}

func (d *Destination) NotionConfig() (NotionConfig, error) {
	var cfg NotionConfig
	err := json.Unmarshal(d.Config, &cfg)
	return cfg, err
}
