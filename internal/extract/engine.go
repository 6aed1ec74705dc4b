package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
)

// Engine turns one receipt image into a normalized ExtractionResult. It has
// no side effects beyond the outbound vision call; the caller persists.
type Engine struct {
	client VisionClient
	model  string
	logger *slog.Logger
}

func NewEngine(client VisionClient, model string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, model: model, logger: logger}
}

// Extract runs the full ladder: structured annotation, embedded-JSON
// recovery, then deterministic heuristic parsing. Malformed model output
// never fails the call; only an unreachable image / empty answer does.
func (e *Engine) Extract(ctx context.Context, in ExtractInput) ExtractOutput {
	start := time.Now()

	if err := validateInput(in); err != nil {
		return ExtractOutput{Err: err, ProcessingTime: time.Since(start)}
	}

	schema := BuildReceiptJSONSchema(constants.AsStringSlice())
	req := AnnotateRequest{
		ImageURL:  in.ImageURL,
		Schema:    schema,
		Model:     e.model,
		MediaType: in.MediaType,
	}
	if len(in.ImageBytes) > 0 {
		req.DataURL = "data:" + in.MediaType + ";base64," +
			base64.StdEncoding.EncodeToString(in.ImageBytes)
	}

	content, model, err := e.client.Annotate(ctx, req)
	if err != nil {
		e.logger.Error("extract.annotate.failed", "error", err)
		return ExtractOutput{
			Err:            common.WrapError(err, "vision annotation failed"),
			ProcessingTime: time.Since(start),
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ExtractOutput{
			Err:            common.UnknownError("vision service returned no text", nil),
			ProcessingTime: time.Since(start),
		}
	}

	result := e.interpret(content)
	result.Model = model
	result.ProcessingTime = time.Since(start)

	e.logger.Info("extract.ok",
		"vendor", result.Fields.VendorName,
		"total", result.Fields.Total,
		"category", result.Fields.Category,
		"confidence", result.Confidence,
		"heuristic", result.Heuristic,
		"elapsed_ms", result.ProcessingTime.Milliseconds(),
	)
	return ExtractOutput{
		Success:        true,
		Result:         &result,
		ProcessingTime: result.ProcessingTime,
	}
}

// interpret decodes the model answer, degrading step by step instead of
// erroring on malformed output.
func (e *Engine) interpret(content string) ExtractionResult {
	var result ExtractionResult
	result.RawText = content

	payload := []byte(content)
	schema := BuildReceiptJSONSchema(nil)
	valid := json.Valid(payload) && ValidateJSONAgainstSchema(schema, payload) == nil
	if !valid {
		if embedded, ok := FindEmbeddedJSON(content); ok && ValidateJSONAgainstSchema(schema, embedded) == nil {
			payload = embedded
			valid = true
		} else {
			e.logger.Warn("extract.structured_output_missing, falling back to heuristics")
		}
	}

	if valid {
		var annotated struct {
			ReceiptFields
			Confidences FieldConfidences `json:"confidences"`
		}
		if err := json.Unmarshal(payload, &annotated); err == nil {
			result.Fields = annotated.ReceiptFields
			result.Confidences = annotated.Confidences
		} else {
			valid = false
		}
	}
	if !valid {
		result.Fields, result.Confidences = ParseHeuristic(content)
		result.Heuristic = true
	}

	// Unrecognized or malformed categories map to Other.
	canon, _ := constants.Canonicalize(result.Fields.Category)
	result.Fields.Category = string(canon)

	result.Confidence = OverallConfidence(result.Confidences)
	return result
}

func validateInput(in ExtractInput) error {
	hasURL := in.ImageURL != ""
	hasBytes := len(in.ImageBytes) > 0
	switch {
	case hasURL && hasBytes:
		return common.ValidationError("provide either image_url or image_bytes, not both", nil)
	case !hasURL && !hasBytes:
		return common.ValidationError("one of image_url or image_bytes is required", nil)
	case hasBytes && in.MediaType == "":
		return common.ValidationError("media_type is required with image_bytes", nil)
	}
	return nil
}
