package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
)

// Receipt is the relational record a receipt's lifecycle and extracted
// fields live on. Ingestion creates it PENDING; the pipeline owns it after
// that.
type Receipt struct {
	ID              uuid.UUID               `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID           uuid.UUID               `gorm:"type:uuid;index:idx_receipts_org;index:idx_receipts_org_hash" json:"org_id"`
	SourceBucket    string                  `json:"source_bucket"`
	SourceKey       string                  `json:"source_key"`
	SourceURL       string                  `json:"source_url,omitempty"`
	Status          constants.ReceiptStatus `gorm:"index" json:"status"`
	VendorName      string                  `json:"vendor_name,omitempty"`
	Amount          *float64                `json:"amount,omitempty"`
	CurrencyCode    string                  `json:"currency_code,omitempty"`
	TxDate          *time.Time              `json:"tx_date,omitempty"`
	CategoryName    string                  `json:"category_name,omitempty"`
	Tax             *float64                `json:"tax,omitempty"`
	Subtotal        *float64                `json:"subtotal,omitempty"`
	PaymentMethod   string                  `json:"payment_method,omitempty"`
	ReceiptNumber   string                  `json:"receipt_number,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
	ConfidenceScore *float32                `json:"confidence_score,omitempty"`
	RawExtraction   datatypes.JSON          `json:"raw_extraction,omitempty"`
	ExtractionError string                  `json:"extraction_error,omitempty"`
	ContentHash     string                  `gorm:"index:idx_receipts_org_hash" json:"content_hash,omitempty"`
	ArchivedAt      *time.Time              `json:"archived_at,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func (Receipt) TableName() string { return "receipts" }
