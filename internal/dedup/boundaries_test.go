package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/contentstore"
)

func TestSplitReturnsWholeBodyWhenNoBoundaryFound(t *testing.T) {
	segments := Split("just a single plain message with no quoting")
	require.Len(t, segments, 1)
	assert.Equal(t, contentstore.OccurrenceOriginal, segments[0].Context)
}

func TestSplitDetectsForwardedMarker(t *testing.T) {
	body := "Hey, see below.\n\n--------- Forwarded message ---------\nOriginal content here."
	segments := Split(body)
	require.GreaterOrEqual(t, len(segments), 2)
	last := segments[len(segments)-1]
	assert.Equal(t, contentstore.OccurrenceForwarded, last.Context)
}

func TestSplitDetectsQuotedReplyChain(t *testing.T) {
	body := "My reply text.\n\nOn Mon, Jan 1, 2020 wrote:\n> quoted line one\n> quoted line two"
	segments := Split(body)
	require.GreaterOrEqual(t, len(segments), 2)
	assert.Equal(t, contentstore.OccurrenceQuoted, segments[len(segments)-1].Context)
	assert.Equal(t, 1, segments[len(segments)-1].Depth)
}

func TestCanonicalizeStripsQuoteMarkersAndCollapsesWhitespace(t *testing.T) {
	got := Canonicalize("> > Hello   there\n>  world  \n\n")
	assert.Equal(t, "Hello there\nworld", got)
}

func TestCanonicalizeTrimsBlankLines(t *testing.T) {
	got := Canonicalize("\n\nreal content\n\n")
	assert.Equal(t, "real content", got)
}

func TestMessageHashIsDeterministicAndSensitiveToEachInput(t *testing.T) {
	a := MessageHash("same text", "a@b.com", "2020-01-01T00:00:00Z")
	b := MessageHash("same text", "a@b.com", "2020-01-01T00:00:00Z")
	assert.Equal(t, a, b)

	diffSender := MessageHash("same text", "different@b.com", "2020-01-01T00:00:00Z")
	assert.NotEqual(t, a, diffSender)

	diffDate := MessageHash("same text", "a@b.com", "2021-01-01T00:00:00Z")
	assert.NotEqual(t, a, diffDate)
}
