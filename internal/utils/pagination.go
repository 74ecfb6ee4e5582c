// Package utils holds small helpers shared by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 int, returning def when s is blank or
// malformed. Surrounding whitespace is ignored.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampLimit parses a ?limit= value into [1, max]. Blank or malformed
// input yields def, which is clamped as well.
func ClampLimit(raw string, def, max int) int {
	n := AtoiDefault(raw, def)
	if max > 0 && n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}
