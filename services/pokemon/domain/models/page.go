package models

import (
	"strings"

	"golang.org/x/text/cases"
)

// PageQuery selects a slice of the cached catalog: Pokemon whose name contains
// Filter, with ID greater than AfterID, in ascending ID order.
//
// Matching is case-insensitive under Unicode full case folding (FoldName)
// on every store: the folded filter must be a substring of the folded name.
// The SQL stores persist the folded name next to the display name.
type PageQuery struct {
	Filter  string
	AfterID int
	Limit   int
}

// NormalizedFilter returns the trimmed filter. An empty result matches everything.
func (q PageQuery) NormalizedFilter() string {
	return strings.TrimSpace(q.Filter)
}

// FoldedFilter returns the trimmed filter under FoldName.
func (q PageQuery) FoldedFilter() string {
	return FoldName(q.NormalizedFilter())
}

// FoldName applies Unicode full case folding, so "Flabébé", "FLABÉBÉ" and
// "flabébé" compare equal, as do "Straße" and "STRASSE".
func FoldName(s string) string {
	return cases.Fold().String(s)
}

// IntPtr returns a pointer to v. Cursor pages are optional ints.
func IntPtr(v int) *int {
	return &v
}
