package extract

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/common"
)

func TestOverallConfidence(t *testing.T) {
	// All four sub-scores present: plain weighted average.
	got := OverallConfidence(FieldConfidences{Vendor: 0.9, Amount: 1.0, Date: 0.8, Currency: 0.95})
	assert.InDelta(t, 0.925, float64(got), 1e-6)

	// Missing sub-scores renormalize over the reported fields.
	got = OverallConfidence(FieldConfidences{Vendor: 0.6, Amount: 0.8})
	want := (0.3*0.6 + 0.4*0.8) / (0.3 + 0.4)
	assert.InDelta(t, want, float64(got), 1e-6)

	// No sub-scores at all falls back to the default.
	assert.InDelta(t, 0.5, float64(OverallConfidence(FieldConfidences{})), 1e-6)
}

func TestParseHeuristic(t *testing.T) {
	text := "\n  STARBUCKS COFFEE #1234\n123 Main St\n2024-03-15\nLatte  $5.50\nTotal: $6.05\n"
	fields, conf := ParseHeuristic(text)

	assert.Equal(t, "STARBUCKS COFFEE #1234", fields.VendorName)
	assert.Equal(t, "6.05", fields.Total)
	assert.Equal(t, "2024-03-15", fields.TxDate)
	assert.Equal(t, "USD", fields.CurrencyCode)
	assert.Equal(t, "Food", fields.Category)
	assert.Greater(t, conf.Vendor, float32(0))
	assert.Greater(t, conf.Amount, float32(0))
}

func TestParseHeuristicUSDate(t *testing.T) {
	fields, _ := ParseHeuristic("ACME\nDate: 3/7/2024\nTotal 12.00")
	assert.Equal(t, "2024-03-07", fields.TxDate)
}

func TestParseHeuristicThousandsSeparator(t *testing.T) {
	fields, _ := ParseHeuristic("VENDOR\nTotal: $1,234.56")
	assert.Equal(t, "1234.56", fields.Total)
}

func TestParseHeuristicEmpty(t *testing.T) {
	fields, conf := ParseHeuristic("")
	assert.Empty(t, fields.VendorName)
	assert.Empty(t, fields.Total)
	assert.Equal(t, float32(0), conf.Vendor)
	// Overall score still lands on the floor default.
	assert.InDelta(t, 0.5, float64(OverallConfidence(conf)), 1e-6)
}

func TestFindEmbeddedJSON(t *testing.T) {
	text := "Sure! Here is the receipt:\n```json\n{\"vendor_name\": \"ACME {\\\"quoted\\\"}\", \"total\": \"9.99\"}\n```\nLet me know."
	payload, ok := FindEmbeddedJSON(text)
	require.True(t, ok)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "9.99", decoded["total"])
}

func TestFindEmbeddedJSONNone(t *testing.T) {
	_, ok := FindEmbeddedJSON("no json here { unbalanced")
	assert.False(t, ok)
}

func TestSchemaRejectsMalformedDecimal(t *testing.T) {
	schema := BuildReceiptJSONSchema(nil)
	good := []byte(`{"vendor_name": "ACME", "total": "12.50"}`)
	require.NoError(t, ValidateJSONAgainstSchema(schema, good))

	bad := []byte(`{"vendor_name": "ACME", "total": "12.505"}`)
	assert.Error(t, ValidateJSONAgainstSchema(schema, bad))

	missingVendor := []byte(`{"total": "12.50"}`)
	assert.Error(t, ValidateJSONAgainstSchema(schema, missingVendor))
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("receipt bytes"))
	b := HashContent([]byte("receipt bytes"))
	c := HashContent([]byte("different bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

type fakeVision struct {
	content string
	err     error
}

func (f *fakeVision) Annotate(ctx context.Context, req AnnotateRequest) (string, string, error) {
	return f.content, "fake-model", f.err
}

func TestEngineStructuredOutput(t *testing.T) {
	client := &fakeVision{content: `{
		"vendor_name": "Chipotle",
		"total": "14.20",
		"tx_date": "2024-06-01",
		"currency_code": "USD",
		"category": "food",
		"confidences": {"vendor": 0.9, "amount": 1.0, "date": 0.8, "currency": 0.95}
	}`}
	engine := NewEngine(client, "fake-model", nil)

	out := engine.Extract(context.Background(), ExtractInput{ImageURL: "https://example.com/r.jpg"})
	require.True(t, out.Success)
	require.NotNil(t, out.Result)
	assert.Equal(t, "Chipotle", out.Result.Fields.VendorName)
	assert.Equal(t, "Food", out.Result.Fields.Category)
	assert.False(t, out.Result.Heuristic)
	assert.InDelta(t, 0.925, float64(out.Result.Confidence), 1e-6)
}

func TestEngineHeuristicFallback(t *testing.T) {
	client := &fakeVision{content: "UBER TRIP\nTotal: $23.40\n2024-05-02\nThanks for riding"}
	engine := NewEngine(client, "fake-model", nil)

	out := engine.Extract(context.Background(), ExtractInput{ImageURL: "https://example.com/r.jpg"})
	require.True(t, out.Success)
	assert.True(t, out.Result.Heuristic)
	assert.Equal(t, "UBER TRIP", out.Result.Fields.VendorName)
	assert.Equal(t, "23.40", out.Result.Fields.Total)
	assert.Equal(t, "Transportation", out.Result.Fields.Category)
	assert.Greater(t, out.Result.Confidence, float32(0))
	assert.LessOrEqual(t, out.Result.Confidence, float32(1))
}

func TestEngineUnknownCategoryMapsToOther(t *testing.T) {
	client := &fakeVision{content: `{"vendor_name": "ACME", "category": "Miscellaneous"}`}
	engine := NewEngine(client, "fake-model", nil)

	out := engine.Extract(context.Background(), ExtractInput{ImageURL: "https://example.com/r.jpg"})
	require.True(t, out.Success)
	assert.Equal(t, "Other", out.Result.Fields.Category)
}

func TestEngineAnnotateFailure(t *testing.T) {
	client := &fakeVision{err: common.NetworkError("connect refused", nil)}
	engine := NewEngine(client, "fake-model", nil)

	out := engine.Extract(context.Background(), ExtractInput{ImageURL: "https://example.com/r.jpg"})
	assert.False(t, out.Success)
	require.Error(t, out.Err)
	assert.True(t, common.Retryable(out.Err))
}

func TestEngineInputValidation(t *testing.T) {
	engine := NewEngine(&fakeVision{}, "fake-model", nil)
	ctx := context.Background()

	out := engine.Extract(ctx, ExtractInput{})
	assert.Equal(t, common.KindValidation, common.KindOf(out.Err))

	out = engine.Extract(ctx, ExtractInput{ImageBytes: []byte{1}})
	assert.Equal(t, common.KindValidation, common.KindOf(out.Err))

	out = engine.Extract(ctx, ExtractInput{ImageURL: "x", ImageBytes: []byte{1}, MediaType: "image/png"})
	assert.Equal(t, common.KindValidation, common.KindOf(out.Err))
}

func TestConfidenceBounds(t *testing.T) {
	got := OverallConfidence(FieldConfidences{Vendor: 1, Amount: 1, Date: 1, Currency: 1})
	assert.True(t, math.Abs(float64(got)-1.0) < 1e-6)
}
