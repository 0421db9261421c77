package dedup

import (
	"regexp"
	"strings"

	"github.com/banks1923/email-sync/internal/contentstore"
)

// Segment is one detected message boundary within a larger email body.
// Sender/DateRaw are the quoted message's own sender/date as recovered
// from the "On ... wrote:" line or the From:/Sent: header block that
// introduced it, per §4.3 step 3 ("normalizing sender/date to ISO 8601
// UTC" per segment); both are empty when no such boundary text was found,
// in which case the caller falls back to the enclosing email's headers.
type Segment struct {
	Text    string
	Context contentstore.OccurrenceContext
	Depth   int
	Sender  string
	DateRaw string
}

var (
	forwardMarker = regexp.MustCompile(`(?im)^-+\s*(original message|forwarded message)\s*-+\s*$`)
	onWroteMarker = regexp.MustCompile(`(?im)^on .+ wrote:\s*$`)
	onWroteDetail = regexp.MustCompile(`(?im)^on\s+(.+?)\s+wrote:\s*$`)
	headerBlock   = regexp.MustCompile(`(?im)^(from|sent|to|subject):\s*.+$`)
	fromLine      = regexp.MustCompile(`(?im)^from:\s*(.+)$`)
	sentLine      = regexp.MustCompile(`(?im)^sent:\s*(.+)$`)
	emailPattern  = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
)

// Split breaks an email body into ordered segments at reply/forward
// boundaries and quote-prefix runs (§4.3). If no boundary is found, the
// whole body is returned as one "original" segment, per the "unparseable
// boundary" edge case. Empty final segments are discarded; signature-only
// segments shorter than minSignalChars (dedup.go) are kept (so they remain in the occurrence
// audit trail) but flagged via the returned Segment.Text length — callers
// decide whether to emit an IndividualMessage for them.
func Split(body string) []Segment {
	lines := strings.Split(body, "\n")

	var segments []Segment
	var current []string
	currentContext := contentstore.OccurrenceOriginal
	currentDepth := 0
	currentSender := ""
	currentDateRaw := ""

	flush := func() {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			segments = append(segments, Segment{
				Text: text, Context: currentContext, Depth: currentDepth,
				Sender: currentSender, DateRaw: currentDateRaw,
			})
		}
		current = nil
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		if forwardMarker.MatchString(line) {
			flush()
			currentContext = contentstore.OccurrenceForwarded
			currentDepth = 0
			currentSender = ""
			currentDateRaw = ""
			i++
			continue
		}
		if onWroteMarker.MatchString(line) || (headerBlock.MatchString(line) && isHeaderRun(lines, i)) {
			flush()
			currentContext = contentstore.OccurrenceQuoted
			currentDepth++
			end := skipHeaderRun(lines, i)
			if onWroteMarker.MatchString(line) {
				currentSender, currentDateRaw = parseOnWrote(line)
			} else {
				currentSender, currentDateRaw = parseHeaderBlock(lines, i, end)
			}
			// Skip the header block itself (From/Sent/To/Subject lines or
			// the "On ... wrote:" line) so it doesn't pollute the segment text.
			i = end
			continue
		}

		depth := quoteDepth(line)
		if depth > 0 {
			if currentContext == contentstore.OccurrenceOriginal {
				flush()
				currentContext = contentstore.OccurrenceQuoted
			}
			currentDepth = depth
		}
		current = append(current, stripQuoteMarkers(line))
		i++
	}
	flush()

	if len(segments) == 0 {
		return []Segment{{Text: strings.TrimSpace(body), Context: contentstore.OccurrenceOriginal, Depth: 0}}
	}
	return segments
}

func quoteDepth(line string) int {
	trimmed := strings.TrimLeft(line, " \t")
	depth := 0
	for strings.HasPrefix(trimmed, ">") {
		depth++
		trimmed = strings.TrimPrefix(trimmed, ">")
		trimmed = strings.TrimPrefix(trimmed, " ")
	}
	return depth
}

func stripQuoteMarkers(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	for strings.HasPrefix(trimmed, ">") {
		trimmed = strings.TrimPrefix(trimmed, ">")
		trimmed = strings.TrimPrefix(trimmed, " ")
	}
	return trimmed
}

func isHeaderRun(lines []string, start int) bool {
	count := 0
	for i := start; i < len(lines) && i < start+4; i++ {
		if headerBlock.MatchString(lines[i]) {
			count++
		}
	}
	return count >= 2
}

func skipHeaderRun(lines []string, start int) int {
	i := start
	for i < len(lines) && (onWroteMarker.MatchString(lines[i]) || headerBlock.MatchString(lines[i]) || strings.TrimSpace(lines[i]) == "") {
		i++
	}
	return i
}

// parseOnWrote recovers the quoted message's own sender/date out of an
// "On <date>, <name> <<email>> wrote:" line, e.g. the Gmail-style quote
// header. When no email address is present in the line, sender is empty and
// dateRaw is the whole text between "On" and "wrote:".
func parseOnWrote(line string) (sender, dateRaw string) {
	m := onWroteDetail.FindStringSubmatch(line)
	if m == nil {
		return "", ""
	}
	rest := m[1]
	email := emailPattern.FindString(rest)
	if email == "" {
		return "", strings.TrimSpace(rest)
	}
	before := rest[:strings.Index(rest, email)]
	if comma := strings.LastIndex(before, ","); comma != -1 {
		return email, strings.TrimSpace(before[:comma])
	}
	return email, ""
}

// parseHeaderBlock recovers the quoted message's sender/date out of a
// From:/Sent: header block (the Outlook-style quote header), scanning
// the lines between [start, end) that skipHeaderRun consumed.
func parseHeaderBlock(lines []string, start, end int) (sender, dateRaw string) {
	for i := start; i < end && i < len(lines); i++ {
		if m := fromLine.FindStringSubmatch(lines[i]); m != nil {
			if email := emailPattern.FindString(m[1]); email != "" {
				sender = email
			} else if sender == "" {
				sender = strings.TrimSpace(m[1])
			}
		}
		if m := sentLine.FindStringSubmatch(lines[i]); m != nil {
			dateRaw = strings.TrimSpace(m[1])
		}
	}
	return sender, dateRaw
}
