package constants

import (
	"strings"
)

type Category string

const (
	Food           Category = "Food"
	Travel         Category = "Travel"
	Transportation Category = "Transportation"
	Office         Category = "Office"
	Software       Category = "Software"
	Utilities      Category = "Utilities"
	Entertainment  Category = "Entertainment"
	Healthcare     Category = "Healthcare"
	Marketing      Category = "Marketing"
	Other          Category = "Other"
)

var allCategories = []Category{
	Food,
	Travel,
	Transportation,
	Office,
	Software,
	Utilities,
	Entertainment,
	Healthcare,
	Marketing,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps free-text category labels onto the closed set.
// Matching is exact and case-insensitive against the category names;
// anything else maps to Other. Keyword-based guessing lives in the
// heuristic parser, not here.
func Canonicalize(input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Other, false
	}
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}
	return Other, false
}

// categoryKeywords drives the heuristic fallback parser: if any keyword or
// known vendor appears in the receipt text, the receipt is tagged with that
// category. First match wins, in the order of allCategories.
var categoryKeywords = map[Category][]string{
	Food:           {"restaurant", "cafe", "coffee", "pizza", "burger", "starbucks", "mcdonald", "chipotle", "doordash", "grubhub", "bakery", "deli"},
	Travel:         {"hotel", "airline", "airways", "flight", "marriott", "hilton", "airbnb", "expedia", "hostel"},
	Transportation: {"uber", "lyft", "taxi", "parking", "shell", "chevron", "exxon", "fuel", "gas station", "transit"},
	Office:         {"staples", "office depot", "officemax", "toner", "stationery", "office supplies"},
	Software:       {"subscription", "saas", "github", "adobe", "atlassian", "dropbox", "slack", "license"},
	Utilities:      {"electric", "water bill", "internet", "comcast", "verizon", "at&t", "t-mobile", "utility"},
	Entertainment:  {"cinema", "theater", "netflix", "spotify", "concert", "tickets"},
	Healthcare:     {"pharmacy", "cvs", "walgreens", "clinic", "dental", "medical"},
	Marketing:      {"google ads", "facebook ads", "meta ads", "mailchimp", "advertising", "billboard"},
}

// DetectCategory scans raw text for category keywords.
func DetectCategory(text string) Category {
	lower := strings.ToLower(text)
	for _, cat := range allCategories {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return Other
}
