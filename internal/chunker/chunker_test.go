package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/contentstore"
)

func TestChunkerRejectsNonDocumentSourceTypes(t *testing.T) {
	c := New(DefaultConfig(), nil)
	_, err := c.Chunk(contentstore.SourceEmailMessage, "abc123", "some body text")
	require.Error(t, err)
}

func TestChunkerProducesSequentialChunkIDs(t *testing.T) {
	c := New(Config{ChunkSize: 60, ChunkOverlap: 10, MinQuality: 0.5}, nil)
	body := strings.Repeat("This is a normal sentence with real words in it. ", 20)

	chunks, err := c.Chunk(contentstore.SourceDocument, "deadbeef", body)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, "deadbeef_"+itoa(i), ch.ChunkID)
		assert.Equal(t, "deadbeef", ch.ParentSHA256)
	}
}

func TestChunkerHardSplitsOversizedSentence(t *testing.T) {
	c := New(Config{ChunkSize: 20, ChunkOverlap: 0, MinQuality: 0.5}, nil)
	body := strings.Repeat("a", 100) // one giant "sentence", no punctuation

	chunks, err := c.Chunk(contentstore.SourceDocument, "sha", body)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Text)), 20)
	}
}

func TestChunkerMarksLowQualityChunksNotReadyForEmbedding(t *testing.T) {
	c := New(Config{ChunkSize: 500, ChunkOverlap: 0, MinQuality: 0.5}, nil)
	// Garbled, punctuation-heavy, short text typical of bad OCR.
	chunks, err := c.Chunk(contentstore.SourceDocument, "sha", "#@! ;; .. __ %%")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.False(t, chunks[0].ReadyForEmbedding)
	assert.Less(t, chunks[0].QualityScore, 0.5)
}

func TestChunkerAcceptsClearProse(t *testing.T) {
	c := New(DefaultConfig(), nil)
	body := "This agreement is entered into between the parties on the date below. " +
		"Each party shall perform its obligations in good faith and in accordance with applicable law. " +
		"Failure to perform shall constitute a material breach of this agreement."
	chunks, err := c.Chunk(contentstore.SourceDocument, "sha", body)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[0].ReadyForEmbedding)
	assert.GreaterOrEqual(t, chunks[0].QualityScore, 0.5)
}

func TestDefaultScorerEmptyTextScoresZero(t *testing.T) {
	var s DefaultScorer
	assert.Equal(t, 0.0, s.Score(""))
	assert.Equal(t, 0.0, s.Score("   "))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
