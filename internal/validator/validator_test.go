package validator

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/contentstore"
)

func validRow() Row {
	return Row{
		EmailID:    "1aaaaaaaaaaaaaaa",
		Subject:    "Quarterly filing",
		Body:       "This is a real message body with enough content.",
		DateSent:   time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		SourceType: contentstore.SourceEmailMessage,
	}
}

func TestValidateAcceptsAWellFormedRow(t *testing.T) {
	result := Validate(validRow(), Config{})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
}

func TestValidateRejectsBadEmailID(t *testing.T) {
	row := validRow()
	row.EmailID = "not-an-id"
	result := Validate(row, Config{})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Violations, contentstore.ViolationBadID)
}

func TestValidateRejectsEmptySubject(t *testing.T) {
	row := validRow()
	row.Subject = "   "
	result := Validate(row, Config{})
	assert.Contains(t, result.Violations, contentstore.ViolationNoSubject)
}

func TestValidateRejectsWhitespaceOnlyBody(t *testing.T) {
	row := validRow()
	row.Body = "\n\t  "
	result := Validate(row, Config{})
	assert.Contains(t, result.Violations, contentstore.ViolationWhitespaceBody)
}

func TestValidateRejectsTinyBodyBelowThreshold(t *testing.T) {
	row := validRow()
	row.Body = "hi"
	result := Validate(row, Config{MinBodyChars: 10})
	assert.Contains(t, result.Violations, contentstore.ViolationTinyBody)
}

func TestValidateRejectsOutOfRangeDate(t *testing.T) {
	row := validRow()
	row.DateSent = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	result := Validate(row, Config{MinYear: 2014})
	assert.Contains(t, result.Violations, contentstore.ViolationOutOfRangeDate)

	row.DateSent = time.Now().Add(48 * time.Hour)
	result = Validate(row, Config{MinYear: 2014})
	assert.Contains(t, result.Violations, contentstore.ViolationOutOfRangeDate)
}

func TestValidateRejectsTestDataPatterns(t *testing.T) {
	row := validRow()
	row.Subject = "TEST FIXTURE: do not ingest"
	cfg := Config{TestDataPatterns: []*regexp.Regexp{regexp.MustCompile("TEST FIXTURE")}}
	result := Validate(row, cfg)
	assert.Contains(t, result.Violations, contentstore.ViolationTestDataBlocked)
}

func TestValidateCollectsMultipleViolationsAtOnce(t *testing.T) {
	row := Row{EmailID: "bad", Subject: "", Body: "", DateSent: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)}
	result := Validate(row, Config{})
	assert.False(t, result.Valid)
	assert.GreaterOrEqual(t, len(result.Violations), 3)
}

func TestSnapshotRoundTripsRowFields(t *testing.T) {
	row := validRow()
	raw, err := Snapshot(row)
	require.NoError(t, err)
	assert.Contains(t, string(raw), row.EmailID)
	assert.Contains(t, string(raw), row.Subject)
}
