package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := map[string]int{
		"":       7,
		"   ":    7,
		"42":     42,
		" 42 ":   42,
		"-3":     -3,
		"twelve": 7,
		"4.5":    7,
	}
	for in, want := range cases {
		if got := AtoiDefault(in, 7); got != want {
			t.Fatalf("AtoiDefault(%q) = %d; want %d", in, got, want)
		}
	}
	if got := AtoiDefault("99999999999999999999999", 7); got != 7 {
		t.Fatalf("overflow should fall back, got %d", got)
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		raw  string
		def  int
		max  int
		want int
	}{
		{"", 20, 100, 20},
		{"5", 20, 100, 5},
		{"500", 20, 100, 100},
		{"0", 20, 100, 1},
		{"-9", 20, 100, 1},
		{"abc", 20, 100, 20},
		{"", 200, 100, 100},
		{"1000", 20, 0, 1000},
	}
	for _, tc := range cases {
		if got := ClampLimit(tc.raw, tc.def, tc.max); got != tc.want {
			t.Fatalf("ClampLimit(%q, %d, %d) = %d; want %d", tc.raw, tc.def, tc.max, got, tc.want)
		}
	}
}
