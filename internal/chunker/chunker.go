// Package chunker implements C8: splitting a document's body into
// embedding-sized chunks and scoring each for embedding eligibility. Only
// source_type=document content may enter; callers that pass anything else
// get a rejection rather than silently chunking an email.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/banks1923/email-sync/internal/contentstore"
)

// Config tunes the chunk size target and overlap, following the teacher's
// ParserConfig.ChunkSize/ChunkOverlap shape (defaults 512/64 characters).
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MinQuality   float64
}

// DefaultConfig returns the §4.8 defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: 512, ChunkOverlap: 64, MinQuality: 0.5}
}

// Chunk is one child produced from a parent document.
type Chunk struct {
	ChunkIndex        int
	ChunkID           string
	ParentSHA256      string
	Text              string
	QualityScore      float64
	ReadyForEmbedding bool
}

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// QualityScorer scores a chunk of text for embedding eligibility. Defined
// as an interface so the chunker and the scorer don't depend on each
// other's concrete types (§9: "break the cycle via an interface").
type QualityScorer interface {
	Score(text string) float64
}

// Chunker splits document bodies into chunks and scores them via an
// injected QualityScorer.
type Chunker struct {
	cfg    Config
	scorer QualityScorer
}

// New creates a Chunker. If scorer is nil, DefaultScorer is used.
func New(cfg Config, scorer QualityScorer) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 64
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = 0.5
	}
	if scorer == nil {
		scorer = &DefaultScorer{}
	}
	return &Chunker{cfg: cfg, scorer: scorer}
}

// Chunk splits one document's body into chunks, rejecting any source_type
// other than "document" (§4.8: "must not be callable for emails").
func (c *Chunker) Chunk(sourceType contentstore.SourceType, parentSHA256, body string) ([]Chunk, error) {
	if sourceType != contentstore.SourceDocument {
		return nil, fmt.Errorf("chunker: source_type %q is not chunkable, only %q is accepted", sourceType, contentstore.SourceDocument)
	}

	segments := splitBySentence(body, c.cfg.ChunkSize, c.cfg.ChunkOverlap)
	chunks := make([]Chunk, 0, len(segments))
	for i, seg := range segments {
		score := c.scorer.Score(seg)
		chunks = append(chunks, Chunk{
			ChunkIndex:        i,
			ChunkID:           fmt.Sprintf("%s_%d", parentSHA256, i),
			ParentSHA256:      parentSHA256,
			Text:              seg,
			QualityScore:      score,
			ReadyForEmbedding: score >= c.cfg.MinQuality,
		})
	}
	return chunks, nil
}

// splitBySentence builds chunks up to targetSize characters, preferring to
// break on a sentence boundary; when a single sentence exceeds targetSize
// on its own it is hard-split at the size boundary instead (§4.8).
func splitBySentence(text string, targetSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
		overlapText := tailChars(current.String(), overlap)
		current.Reset()
		current.WriteString(overlapText)
	}

	for _, sentence := range sentences {
		if len(sentence) > targetSize {
			flush()
			chunks = append(chunks, hardSplit(sentence, targetSize)...)
			continue
		}
		if current.Len()+len(sentence) > targetSize && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func splitSentences(text string) []string {
	marked := sentenceBoundary.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func hardSplit(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func tailChars(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return ""
	}
	return string(runes[len(runes)-n:])
}
