// Package dedup implements C3: splitting a raw email into its constituent
// IndividualMessage segments (original, quoted, forwarded) and collapsing
// repeated occurrences of the same message text to one stored row.
package dedup

import (
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Headers is the subset of a parsed email's MIME headers C3 needs.
type Headers struct {
	Subject     string
	From        string
	Recipients  []string
	Date        time.Time
	MessageID   string
}

// ParseHeaders reads the top-level MIME headers of a raw email using
// github.com/emersion/go-message/mail. If the input cannot be parsed as
// MIME at all, the error from mail.CreateReader is returned and no headers
// are extracted.
func ParseHeaders(r io.Reader) (Headers, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return Headers{}, err
	}
	h := Headers{}
	if subj, err := mr.Header.Subject(); err == nil {
		h.Subject = subj
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		h.From = from[0].Address
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			h.Recipients = append(h.Recipients, addr.Address)
		}
	}
	if date, err := mr.Header.Date(); err == nil {
		h.Date = date
	}
	if msgID, err := mr.Header.MessageID(); err == nil {
		h.MessageID = msgID
	}

	// Drain the remaining MIME parts so the reader is left in a consistent
	// state for the caller; the plain-text body is read separately from
	// boundaries.go against the same raw bytes.
	for {
		if _, err := mr.NextPart(); err != nil {
			break
		}
	}
	return h, nil
}

// Canonicalize normalizes message text for hashing: collapse runs of
// whitespace, trim quote markers ("> ") from the start of lines, and drop
// trailing/leading blank lines. Two occurrences of logically the same
// message that differ only in quoting depth hash identically after this
// step; line breaks are kept, so text wrapped at different points does not.
func Canonicalize(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		for strings.HasPrefix(trimmed, ">") {
			trimmed = strings.TrimPrefix(trimmed, ">")
			trimmed = strings.TrimPrefix(trimmed, " ")
		}
		trimmed = collapseSpaces(strings.TrimSpace(trimmed))
		out = append(out, trimmed)
	}
	// Trim leading/trailing blank lines.
	start, end := 0, len(out)
	for start < end && out[start] == "" {
		start++
	}
	for end > start && out[end-1] == "" {
		end--
	}
	return strings.Join(out[start:end], "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t'
		if isSpace && lastSpace {
			continue
		}
		b.WriteRune(r)
		lastSpace = isSpace
	}
	return b.String()
}
