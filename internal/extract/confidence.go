package extract

// Fixed weights for the overall confidence score. Renormalized over the
// fields actually reported, so a missing sub-score does not drag the
// average down.
const (
	weightVendor   = 0.3
	weightAmount   = 0.4
	weightDate     = 0.2
	weightCurrency = 0.1

	// defaultConfidence is used when no sub-scores are available at all.
	defaultConfidence = 0.5
)

// OverallConfidence folds per-field sub-scores into one 0..1 score.
func OverallConfidence(c FieldConfidences) float32 {
	var sum, weight float64
	if c.Vendor > 0 {
		sum += weightVendor * float64(c.Vendor)
		weight += weightVendor
	}
	if c.Amount > 0 {
		sum += weightAmount * float64(c.Amount)
		weight += weightAmount
	}
	if c.Date > 0 {
		sum += weightDate * float64(c.Date)
		weight += weightDate
	}
	if c.Currency > 0 {
		sum += weightCurrency * float64(c.Currency)
		weight += weightCurrency
	}
	if weight == 0 {
		return defaultConfidence
	}
	return float32(sum / weight)
}
