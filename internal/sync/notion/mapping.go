package notion

import (
	"strings"
	"time"

	"github.com/Kriebel-LLC/receiptsync-sub000/internal/entity"
)

// fieldValue is one receipt field in a shape that can be rendered into any
// compatible property type.
type fieldValue struct {
	text   string
	number *float64
	date   *time.Time
}

// ReceiptIDField is the mapping key for the identifier-bearing property the
// adapter queries on for Modify/Remove.
const ReceiptIDField = "receipt_id"

// defaultMapping maps receipt field names to conventional property names.
// Destination configuration overrides entries per field, by property id or
// name.
var defaultMapping = map[string]string{
	"vendor":         "Vendor",
	"amount":         "Amount",
	"currency":       "Currency",
	"date":           "Date",
	"category":       "Category",
	"tax":            "Tax",
	"subtotal":       "Subtotal",
	"payment_method": "Payment Method",
	"receipt_number": "Receipt Number",
	"notes":          "Notes",
	"image_url":      "Image",
	ReceiptIDField:   "Receipt ID",
}

func fieldValues(r *entity.Receipt) map[string]fieldValue {
	values := map[string]fieldValue{
		"vendor":         {text: r.VendorName},
		"amount":         {number: r.Amount},
		"currency":       {text: r.CurrencyCode},
		"date":           {date: r.TxDate},
		"category":       {text: r.CategoryName},
		"tax":            {number: r.Tax},
		"subtotal":       {number: r.Subtotal},
		"payment_method": {text: r.PaymentMethod},
		"receipt_number": {text: r.ReceiptNumber},
		"notes":          {text: r.Notes},
		ReceiptIDField:   {text: r.ID.String()},
	}
	if ref := imageRef(r); ref != "" {
		values["image_url"] = fieldValue{text: ref}
	}
	return values
}

func imageRef(r *entity.Receipt) string {
	if r.SourceURL != "" {
		return r.SourceURL
	}
	if r.SourceBucket != "" && r.SourceKey != "" {
		return r.SourceBucket + "/" + r.SourceKey
	}
	return ""
}

// resolveProperty finds the schema property a mapping target refers to,
// first by property id, then by case-insensitive name.
func resolveProperty(schema map[string]Property, target string) (Property, bool) {
	for _, p := range schema {
		if p.ID == target {
			return p, true
		}
	}
	for name, p := range schema {
		if strings.EqualFold(name, target) {
			return p, true
		}
	}
	return Property{}, false
}

// renderValue produces the API payload for one property, or false when the
// property type cannot carry the field. Incompatible pairs are skipped by
// the caller rather than failing the sync.
func renderValue(p Property, v fieldValue) (any, bool) {
	switch p.Type {
	case "title":
		if v.text == "" {
			return nil, false
		}
		return map[string]any{"title": richText(v.text)}, true
	case "rich_text":
		text := v.text
		if text == "" && v.number != nil {
			return nil, false
		}
		if text == "" {
			return nil, false
		}
		return map[string]any{"rich_text": richText(text)}, true
	case "number":
		if v.number == nil {
			return nil, false
		}
		return map[string]any{"number": *v.number}, true
	case "date":
		if v.date == nil {
			return nil, false
		}
		return map[string]any{"date": map[string]any{"start": v.date.Format("2006-01-02")}}, true
	case "select":
		if v.text == "" {
			return nil, false
		}
		return map[string]any{"select": map[string]any{"name": v.text}}, true
	case "url":
		if v.text == "" {
			return nil, false
		}
		return map[string]any{"url": v.text}, true
	}
	return nil, false
}

func richText(s string) []map[string]any {
	return []map[string]any{
		{"type": "text", "text": map[string]any{"content": s}},
	}
}
