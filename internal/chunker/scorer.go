package chunker

import "strings"

// DefaultScorer implements QualityScorer with a length/alpha-ratio/
// punctuation-density/OCR-artifact heuristic per §4.8. Chunks below the
// configured MinQuality are stored but marked not ready_for_embedding,
// rather than dropped, so they remain auditable.
type DefaultScorer struct{}

const (
	minUsefulLength = 40
	idealLength     = 400
)

// Score returns a value in [0,1]. Four signals are averaged:
//   - length: penalizes very short chunks, saturates at idealLength
//   - alphaRatio: fraction of characters that are letters
//   - punctuationDensity: penalizes runs of punctuation/whitespace noise
//   - ocrArtifactRatio: penalizes character sequences typical of bad OCR
func (DefaultScorer) Score(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	length := lengthScore(text)
	alpha := alphaRatio(text)
	punct := 1 - punctuationDensity(text)
	ocr := 1 - ocrArtifactRatio(text)

	score := (length + alpha + punct + ocr) / 4
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func lengthScore(text string) float64 {
	n := len([]rune(text))
	if n <= minUsefulLength {
		return float64(n) / float64(minUsefulLength) * 0.3
	}
	if n >= idealLength {
		return 1
	}
	span := idealLength - minUsefulLength
	return 0.3 + 0.7*float64(n-minUsefulLength)/float64(span)
}

func alphaRatio(text string) float64 {
	var alpha, total int
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		total++
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alpha++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alpha) / float64(total)
}

func punctuationDensity(text string) float64 {
	var punct, total int
	for _, r := range text {
		total++
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '\n', r == '\t':
		default:
			punct++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(punct) / float64(total)
}

// ocrArtifactRatio is the fraction of words that look like OCR artifacts:
// single-character words that are not a letter or digit, and words with two
// or more symbol-after-symbol pairs (e.g. a run of 3+ non-alphanumeric
// characters), both common signatures of garbled OCR output.
func ocrArtifactRatio(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 1
	}
	var bad int
	for _, w := range words {
		if isArtifactWord(w) {
			bad++
		}
	}
	return float64(bad) / float64(len(words))
}

func isArtifactWord(w string) bool {
	if len(w) == 1 {
		r := rune(w[0])
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == 'I' || r == 'a' || r == 'A') {
			return true
		}
	}
	runCount := 0
	lastWasSymbol := false
	for _, r := range w {
		isSymbol := !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
		if isSymbol && lastWasSymbol {
			runCount++
		}
		lastWasSymbol = isSymbol
	}
	return runCount >= 2
}

var _ QualityScorer = DefaultScorer{}
