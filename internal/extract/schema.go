package extract

// BuildReceiptJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass this to the vision service as a structured output
// constraint and also use it locally to validate what comes back.
func BuildReceiptJSONSchema(allowedCategories []string) map[string]any {
	props := map[string]any{
		"vendor_name":    map[string]any{"type": "string", "minLength": 1},
		"tx_date":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"subtotal":       decimalProp(),
		"tax":            decimalProp(),
		"total":          decimalProp(),
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"category":       map[string]any{"type": "string"},
		"payment_method": map[string]any{"type": "string"},
		"receipt_number": map[string]any{"type": "string"},
		"line_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"quantity":    decimalProp(),
					"amount":      decimalProp(),
				},
				"required": []string{"description"},
			},
		},
		"confidences": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"vendor":   confidenceProp(),
				"amount":   confidenceProp(),
				"date":     confidenceProp(),
				"currency": confidenceProp(),
			},
		},
	}
	required := []string{"vendor_name"}

	// Constrain category if a taxonomy is provided.
	if len(allowedCategories) > 0 {
		props["category"] = map[string]any{
			"type": "string",
			"enum": allowedCategories,
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`,
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}
