// Package utils provides small helpers for parsing and bounding request
// parameters. They carry no domain logic.
package utils

import (
	"strconv"
	"strings"
)

// MaxPage caps page numbers accepted from query strings.
const MaxPage = 10_000

// AtoiDefault parses s as an int and returns def when s is empty or not a
// valid integer. Surrounding whitespace is trimmed first.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
