// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds clamps a 1-based page and page size and returns the matching
// offset and limit. A non-positive size falls back to def; maxSize > 0 caps it.
//
// Example:
//
//	off, lim := utils.PageBounds(3, 20, 20, 100) // 40, 20
func PageBounds(page, size, def, maxSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = def
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return (page - 1) * size, size
}
