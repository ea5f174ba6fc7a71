// Package utils carries small helpers with no domain knowledge.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def for empty or unparseable
// input. Query-parameter parsing in the handlers leans on it for page and
// limit values.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
