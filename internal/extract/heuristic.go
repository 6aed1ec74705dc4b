package extract

import (
	"regexp"
	"strings"

	"github.com/Kriebel-LLC/receiptsync-sub000/constants"
)

var (
	reTotal  = regexp.MustCompile(`(?i)(?:total|amount\s+due)\s*[:\s]*\$?\s*(\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`)
	reISO    = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	reUSDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
)

// ParseHeuristic is the deterministic fallback used when no structured JSON
// is recoverable from the model output. It is intentionally conservative:
// low confidences, no guessing beyond fixed patterns.
func ParseHeuristic(text string) (ReceiptFields, FieldConfidences) {
	var fields ReceiptFields
	var conf FieldConfidences

	// First non-blank line as vendor, low confidence.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			fields.VendorName = line
			conf.Vendor = 0.3
			break
		}
	}

	if m := reTotal.FindStringSubmatch(text); m != nil {
		fields.Total = strings.ReplaceAll(m[1], ",", "")
		conf.Amount = 0.5
	}

	if m := reISO.FindStringSubmatch(text); m != nil {
		fields.TxDate = m[1] + "-" + m[2] + "-" + m[3]
		conf.Date = 0.4
	} else if m := reUSDate.FindStringSubmatch(text); m != nil {
		fields.TxDate = m[3] + "-" + pad2(m[1]) + "-" + pad2(m[2])
		conf.Date = 0.4
	}

	// Currency inference recognizes only the dollar sign.
	if strings.Contains(text, "$") {
		fields.CurrencyCode = "USD"
		conf.Currency = 0.4
	}

	fields.Category = string(constants.DetectCategory(text))
	return fields, conf
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
