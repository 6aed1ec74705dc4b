package extract

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/repository"
)

// CacheHit carries everything the pipeline needs to reuse a prior
// extraction without calling the vision service again.
type CacheHit struct {
	Result          ExtractionResult
	Confidence      float32
	SourceReceiptID uuid.UUID
}

// Cache looks up prior extraction results by (organization, content hash).
// It is a cost optimization, not a correctness mechanism: concurrent misses
// for identical content are accepted and converge to identical results.
type Cache struct {
	receipts repository.ReceiptRepository
	logger   *slog.Logger
}

func NewCache(receipts repository.ReceiptRepository, logger *slog.Logger) *Cache {
	return &Cache{receipts: receipts, logger: logger}
}

// Lookup returns the newest reusable result for the digest within the
// organization, excluding the receipt currently being processed. A receipt
// whose raw payload cannot be decoded is skipped, not an error.
func (c *Cache) Lookup(ctx context.Context, orgID uuid.UUID, digest string, exclude uuid.UUID) (*CacheHit, error) {
	if digest == "" {
		return nil, nil
	}
	recs, err := c.receipts.FindExtractedByHash(ctx, orgID, digest, exclude)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if len(rec.RawExtraction) == 0 {
			continue
		}
		var result ExtractionResult
		if err := json.Unmarshal(rec.RawExtraction, &result); err != nil {
			c.logger.Warn("skipping undecodable cached extraction",
				"receipt_id", rec.ID, "error", err)
			continue
		}
		confidence := result.Confidence
		if rec.ConfidenceScore != nil {
			confidence = *rec.ConfidenceScore
		}
		c.logger.Info("extraction cache hit",
			"org_id", orgID, "source_receipt_id", rec.ID, "confidence", confidence)
		return &CacheHit{
			Result:          result,
			Confidence:      confidence,
			SourceReceiptID: rec.ID,
		}, nil
	}
	return nil, nil
}
