// Package validator implements C2: the email-ingest validation gate that
// decides whether a raw row may proceed to the content store or must be
// quarantined.
package validator

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/banks1923/email-sync/internal/contentstore"
)

var emailIDPattern = regexp.MustCompile(`^1[0-9a-f]{15}$`)

// Row is one raw ingest candidate, prior to being accepted into C1.
type Row struct {
	EmailID    string
	Subject    string
	Body       string
	DateSent   time.Time
	SourceType contentstore.SourceType
}

// Result is the outcome of validating one Row.
type Result struct {
	Valid      bool
	Violations []contentstore.ViolationCategory
}

// Config carries the tunable validation thresholds (config.ValidatorConfig,
// kept decoupled from the config package to avoid an import cycle with the
// caller that wires both together).
type Config struct {
	TestDataPatterns []*regexp.Regexp
	MinBodyChars     int
	MinYear          int
}

// Validate applies every §4.2 rule to a row and returns every violation
// found — a row can fail more than one rule at once.
func Validate(row Row, cfg Config) Result {
	var violations []contentstore.ViolationCategory

	if !emailIDPattern.MatchString(row.EmailID) {
		violations = append(violations, contentstore.ViolationBadID)
	}
	if strings.TrimSpace(row.Subject) == "" {
		violations = append(violations, contentstore.ViolationNoSubject)
	}

	trimmedBody := strings.TrimSpace(row.Body)
	if trimmedBody == "" {
		violations = append(violations, contentstore.ViolationWhitespaceBody)
	} else if len(nonWhitespace(row.Body)) < minBodyChars(cfg) {
		violations = append(violations, contentstore.ViolationTinyBody)
	}

	minDate := time.Date(minYear(cfg), 1, 1, 0, 0, 0, 0, time.UTC)
	if row.DateSent.Before(minDate) || row.DateSent.After(time.Now()) {
		violations = append(violations, contentstore.ViolationOutOfRangeDate)
	}

	for _, pat := range cfg.TestDataPatterns {
		if pat.MatchString(row.Subject) || pat.MatchString(row.Body) {
			violations = append(violations, contentstore.ViolationTestDataBlocked)
			break
		}
	}

	return Result{Valid: len(violations) == 0, Violations: violations}
}

func nonWhitespace(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !isSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func minBodyChars(cfg Config) int {
	if cfg.MinBodyChars <= 0 {
		return 5
	}
	return cfg.MinBodyChars
}

func minYear(cfg Config) int {
	if cfg.MinYear <= 0 {
		return 2014
	}
	return cfg.MinYear
}

// Snapshot marshals a Row for storage in a QuarantineRow's original_row_snapshot.
func Snapshot(row Row) (json.RawMessage, error) {
	return json.Marshal(struct {
		EmailID    string    `json:"email_id"`
		Subject    string    `json:"subject"`
		Body       string    `json:"body"`
		DateSent   time.Time `json:"date_sent"`
		SourceType string    `json:"source_type"`
	}{row.EmailID, row.Subject, row.Body, row.DateSent, string(row.SourceType)})
}
