// Package utils holds small helpers shared across the node: logger setup,
// vector math, and display truncation.
package utils

import "unicode/utf8"

// Truncate shortens s to at most max bytes plus an ellipsis marker, backing
// up to a rune boundary so a multi-byte character is never split. When max
// is not positive s is returned unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
