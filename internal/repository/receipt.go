package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
)

// ExtractedFields wraps the values the pipeline writes back onto a receipt
// after a successful extraction.
type ExtractedFields struct {
	VendorName      string
	Amount          *float64
	CurrencyCode    string
	TxDate          *time.Time
	CategoryName    string
	Tax             *float64
	Subtotal        *float64
	PaymentMethod   string
	ReceiptNumber   string
	ConfidenceScore float32
	RawExtraction   []byte
	ContentHash     string
}

type ReceiptRepository interface {
	Create(ctx context.Context, r *entity.Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkExtracted(ctx context.Context, id uuid.UUID, fields ExtractedFields) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	// FindExtractedByHash returns prior successfully extracted receipts of the
	// same organization with an identical content hash, newest first,
	// excluding the receipt currently being processed.
	FindExtractedByHash(ctx context.Context, orgID uuid.UUID, contentHash string, exclude uuid.UUID) ([]*entity.Receipt, error)
}

type receiptRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewReceiptRepository(db *gorm.DB, logger *slog.Logger) ReceiptRepository {
	return &receiptRepository{db: db, logger: logger}
}

func (r *receiptRepository) Create(ctx context.Context, rec *entity.Receipt) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = constants.ReceiptStatusPending
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *receiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error) {
	var rec entity.Receipt
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receiptRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.Receipt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           constants.ReceiptStatusProcessing,
			"extraction_error": "",
		}).Error
}

func (r *receiptRepository) MarkExtracted(ctx context.Context, id uuid.UUID, f ExtractedFields) error {
	updates := map[string]any{
		"status":           constants.ReceiptStatusExtracted,
		"vendor_name":      f.VendorName,
		"amount":           f.Amount,
		"currency_code":    f.CurrencyCode,
		"tx_date":          f.TxDate,
		"category_name":    f.CategoryName,
		"tax":              f.Tax,
		"subtotal":         f.Subtotal,
		"payment_method":   f.PaymentMethod,
		"receipt_number":   f.ReceiptNumber,
		"confidence_score": f.ConfidenceScore,
		"extraction_error": "",
	}
	if len(f.RawExtraction) > 0 {
		updates["raw_extraction"] = datatypes.JSON(f.RawExtraction)
	}
	if f.ContentHash != "" {
		updates["content_hash"] = f.ContentHash
	}
	err := r.db.WithContext(ctx).
		Model(&entity.Receipt{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		r.logger.Error("failed to persist extracted fields", "receipt_id", id, "error", err)
	}
	return err
}

func (r *receiptRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Receipt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           constants.ReceiptStatusFailed,
			"extraction_error": message,
		}).Error
}

func (r *receiptRepository) FindExtractedByHash(ctx context.Context, orgID uuid.UUID, contentHash string, exclude uuid.UUID) ([]*entity.Receipt, error) {
	var recs []*entity.Receipt
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND content_hash = ? AND status = ?", orgID, contentHash, constants.ReceiptStatusExtracted).
		Where("id <> ?", exclude).
		Where("archived_at IS NULL").
		Order("updated_at desc").
		Find(&recs).Error
	return recs, err
}
