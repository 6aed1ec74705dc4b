package extract

import (
	"context"
	"time"
)

// ReceiptFields is the normalized shape we want from the vision service.
// Money fields are decimal strings on the wire; the repository parses them
// when persisting.
type ReceiptFields struct {
	VendorName    string     `json:"vendor_name"`
	TxDate        string     `json:"tx_date,omitempty"` // YYYY-MM-DD
	Subtotal      string     `json:"subtotal,omitempty"`
	Tax           string     `json:"tax,omitempty"`
	Total         string     `json:"total,omitempty"`
	CurrencyCode  string     `json:"currency_code,omitempty"` // ISO 4217
	Category      string     `json:"category,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`
}

type LineItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// FieldConfidences carries per-field sub-scores (0..1) reported by the model
// or assigned by the heuristic parser. Zero means "not reported".
type FieldConfidences struct {
	Vendor   float32 `json:"vendor,omitempty"`
	Amount   float32 `json:"amount,omitempty"`
	Date     float32 `json:"date,omitempty"`
	Currency float32 `json:"currency,omitempty"`
}

// ExtractionResult is the immutable value produced by one extraction
// attempt. It is stored verbatim on the receipt and, keyed by content hash,
// reused across receipts of the same organization.
type ExtractionResult struct {
	RawText        string           `json:"raw_text,omitempty"`
	Fields         ReceiptFields    `json:"fields"`
	Confidences    FieldConfidences `json:"confidences"`
	Confidence     float32          `json:"confidence"`
	Model          string           `json:"model,omitempty"`
	Heuristic      bool             `json:"heuristic,omitempty"`
	ProcessingTime time.Duration    `json:"processing_time_ns"`
}

// ExtractInput identifies the image: exactly one of ImageURL or ImageBytes
// must be set; ImageBytes requires MediaType.
type ExtractInput struct {
	ImageURL   string
	ImageBytes []byte
	MediaType  string
}

// ExtractOutput is the engine's answer. Err is set only on total failure;
// malformed model output degrades to the heuristic parser instead.
type ExtractOutput struct {
	Success        bool
	Result         *ExtractionResult
	Err            error
	ProcessingTime time.Duration
}

// AnnotateRequest asks the vision service for a structured annotation of one
// image against the receipt schema.
type AnnotateRequest struct {
	ImageURL  string // remote URL, or
	DataURL   string // base64 data URL built from inline bytes
	Schema    map[string]any
	Model     string
	MediaType string
}

// VisionClient is the document-understanding dependency the engine calls.
type VisionClient interface {
	Annotate(ctx context.Context, req AnnotateRequest) (content string, model string, err error)
}
