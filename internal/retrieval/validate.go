package retrieval

import (
	"strings"
	"unicode"

	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/errs"
)

const (
	maxQueryLength = 1000
	defaultLimit   = 20
	minLimit       = 1
	maxLimit       = 200
)

// Query is the validated, normalized form of a caller-supplied query plus
// limit/filters, per §4.6.1: trim+length<=1000, control-char strip, limit
// clamped to [1,200].
type Query struct {
	Text    string
	Limit   int
	Filters Filters
	Why     bool
}

// ValidateQuery normalizes text and limit and rejects anything malformed,
// never silently coercing a query that's actually invalid (empty after
// stripping, or over the length cap).
func ValidateQuery(rawText string, limit int, filters Filters, why bool) (Query, error) {
	text := stripControlChars(strings.TrimSpace(rawText))
	if text == "" {
		return Query{}, &errs.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if len([]rune(text)) > maxQueryLength {
		return Query{}, &errs.ValidationError{Field: "query", Message: "exceeds maximum length of 1000 characters"}
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateFrom.After(*filters.DateTo) {
		return Query{}, &errs.ValidationError{Field: "date_range", Message: "date_from must not be after date_to"}
	}
	switch filters.TagLogic {
	case "", contentstore.TagLogicAny, contentstore.TagLogicAll:
	default:
		return Query{}, &errs.ValidationError{Field: "tag_logic", Message: "must be ANY or ALL"}
	}

	return Query{Text: text, Limit: limit, Filters: filters, Why: why}, nil
}

// stripControlChars removes any non-printable control character, keeping
// ordinary whitespace (space, tab, newline) used within a legitimate query.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
