package constants

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in    string
		want  Category
		exact bool
	}{
		{"Food", Food, true},
		{"food", Food, true},
		{"  TRAVEL  ", Travel, true},
		{"Software", Software, true},
		{"Groceries", Other, false},
		{"", Other, false},
		{"Fo od", Other, false},
	}
	for _, c := range cases {
		got, ok := Canonicalize(c.in)
		if got != c.want || ok != c.exact {
			t.Errorf("Canonicalize(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.exact)
		}
	}
}

func TestAsStringSliceIsComplete(t *testing.T) {
	all := AsStringSlice()
	if len(all) != 10 {
		t.Fatalf("expected 10 categories, got %d", len(all))
	}
	seen := map[string]bool{}
	for _, c := range all {
		if seen[c] {
			t.Fatalf("duplicate category %q", c)
		}
		seen[c] = true
	}
	if !seen[string(Other)] {
		t.Fatal("Other must be a listed category")
	}
}

func TestDetectCategory(t *testing.T) {
	cases := []struct {
		text string
		want Category
	}{
		{"UNITED AIRLINES\nFlight to SFO", Travel},
		{"Starbucks Coffee\nLatte 5.50", Food},
		{"random text with no signal", Other},
	}
	for _, c := range cases {
		if got := DetectCategory(c.text); got != c.want {
			t.Errorf("DetectCategory(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
