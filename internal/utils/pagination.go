// Package utils holds small helpers shared across layers, independent of
// donation business logic.
package utils

import "strconv"

// PageRequest bounds pagination query input.
type PageRequest struct {
	DefaultSize int
	MaxSize     int
}

// Resolve parses raw page / page_size query values into bounded integers.
// Empty or unparsable values fall back to page 1 and the default size;
// page_size is clamped to [1, MaxSize].
func (p PageRequest) Resolve(rawPage, rawSize string) (page, size int) {
	page = AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, p.DefaultSize)
	if size < 1 {
		size = 1
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		size = p.MaxSize
	}
	return page, size
}

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
