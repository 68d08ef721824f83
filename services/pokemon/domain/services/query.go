package services

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ghuser/pokedex/services/pokemon/domain"
)

// MaxQueryLength bounds a search query.
const MaxQueryLength = 100

// IsBlankQuery reports whether q selects remote-backed browsing rather than a local search.
func IsBlankQuery(q string) bool {
	return strings.TrimSpace(q) == ""
}

// ValidateQuery enforces business rules for search queries:
//   - At most MaxQueryLength characters
//   - No control characters (Unicode category Cc)
//
// Blank queries are valid; they switch the window back to remote-backed mode.
func ValidateQuery(q string) error {
	if len([]rune(q)) > MaxQueryLength {
		return fmt.Errorf("%w: must not exceed %d characters", domain.ErrInvalidQuery, MaxQueryLength)
	}
	for _, r := range q {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: must not contain control characters", domain.ErrInvalidQuery)
		}
	}
	return nil
}
