package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/banks1923/email-sync/internal/contentstore"
)

const minSignalChars = 5

// segmentDateLayouts enumerates the quote-header date formats seen in the
// wild ("On ... wrote:" lines and Sent: header values), tried in order
// until one parses. A segment whose DateRaw matches none of these falls
// back to the enclosing email's own Date header.
var segmentDateLayouts = []string{
	"Mon, Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006 at 3:04 PM",
	"Monday, January 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006, 3:04 PM",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"01/02/2006 3:04 PM",
	"01/02/2006",
}

// parseSegmentDate attempts to parse a quote header's raw date text,
// reporting ok=false when none of segmentDateLayouts match.
func parseSegmentDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range segmentDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Result summarizes one email's processing: how many distinct messages were
// newly created vs. already known, and every occurrence recorded.
type Result struct {
	EmailID        string
	MessagesCreated int
	MessagesKnown   int
	Occurrences     []*contentstore.MessageOccurrence
}

// MessageHash computes the stable identity of a message's canonicalized
// text, sender, and date — two occurrences of the same logical message
// collapse to the same hash regardless of which email carried them.
func MessageHash(canonicalText, senderEmail string, dateSent string) string {
	h := sha256.New()
	h.Write([]byte(canonicalText))
	h.Write([]byte{0})
	h.Write([]byte(senderEmail))
	h.Write([]byte{0})
	h.Write([]byte(dateSent))
	return hex.EncodeToString(h.Sum(nil))
}

// Process splits one raw email body into its constituent messages, upserts
// each into the IndividualMessage table (one row per unique message_hash),
// and appends a MessageOccurrence audit row for every segment, including
// signature-only ones that are too short to warrant their own
// IndividualMessage (§4.3 edge case: "signature-only segments <5 chars
// dropped but retained in occurrence audit").
func Process(ctx context.Context, messages *contentstore.MessageRepository, occurrences *contentstore.OccurrenceRepository, emailID string, hdr Headers, body string) (*Result, error) {
	segments := Split(body)
	result := &Result{EmailID: emailID}

	for position, seg := range segments {
		canonical := Canonicalize(seg.Text)

		// A quoted/replied-to segment carries its own originating sender
		// and date, recovered from the "On ... wrote:"/header-block text
		// that introduced it (§4.3 step 3); fall back to the enclosing
		// email's headers only when the segment has none. Without this,
		// the same message quoted in a later, separate email would hash
		// with that later email's sender/date and never collapse against
		// the IndividualMessage created when the original was first seen.
		sender := hdr.From
		if seg.Sender != "" {
			sender = seg.Sender
		}
		date := hdr.Date
		if parsed, ok := parseSegmentDate(seg.DateRaw); ok {
			date = parsed
		}

		dateKey := date.UTC().Format("2006-01-02T15:04:05Z")
		hash := MessageHash(canonical, sender, dateKey)

		occ := &contentstore.MessageOccurrence{
			MessageHash:     hash,
			EmailID:         emailID,
			PositionInEmail: position,
			ContextType:     seg.Context,
			QuoteDepth:      seg.Depth,
		}

		if len(strings.TrimSpace(canonical)) < minSignalChars {
			// Too short to be its own message; still recorded as an
			// occurrence for audit purposes, but no IndividualMessage row.
			if err := occurrences.Append(ctx, occ); err != nil {
				return nil, fmt.Errorf("append occurrence for email %s: %w", emailID, err)
			}
			result.Occurrences = append(result.Occurrences, occ)
			continue
		}

		contentType := contentstore.ContentTypeOriginal
		switch seg.Context {
		case contentstore.OccurrenceForwarded:
			contentType = contentstore.ContentTypeForward
		case contentstore.OccurrenceQuoted:
			contentType = contentstore.ContentTypeReply
		}

		msg := &contentstore.IndividualMessage{
			MessageHash: hash,
			Content:     canonical,
			Subject:     hdr.Subject,
			SenderEmail: sender,
			Recipients:  hdr.Recipients,
			DateSent:    date,
			ContentType: contentType,
		}
		if hdr.MessageID != "" {
			msg.MessageID = &hdr.MessageID
		}

		created, err := messages.Upsert(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("upsert message for email %s: %w", emailID, err)
		}
		if created {
			result.MessagesCreated++
		} else {
			result.MessagesKnown++
		}

		if err := occurrences.Append(ctx, occ); err != nil {
			return nil, fmt.Errorf("append occurrence for email %s: %w", emailID, err)
		}
		result.Occurrences = append(result.Occurrences, occ)
	}

	return result, nil
}
