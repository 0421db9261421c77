package dedup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/contentstore"
)

// newTestDB opens an in-memory sqlite database and applies C1's migrations,
// mirroring the DSN shape contentstore.Open builds for the sqlite driver.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_busy_timeout=5000&_journal_mode=WAL")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	mgr := contentstore.NewMigrationManager(db, "../contentstore/migrations", "sqlite")
	ctx := context.Background()
	status, err := mgr.Check(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Run(ctx, status))
	return db
}

func TestProcessCreatesOneMessagePerSegment(t *testing.T) {
	db := newTestDB(t)
	messages := contentstore.NewMessageRepository(db)
	occurrences := contentstore.NewOccurrenceRepository(db)
	ctx := context.Background()

	hdr := Headers{Subject: "Re: filing", From: "alice@example.com", Date: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)}
	body := "My reply text.\n\nOn Mon, May 3, 2021 at 9:00 AM, Bob Jones <bob@example.com> wrote:\n> the original message body"

	result, err := Process(ctx, messages, occurrences, "email-1", hdr, body)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MessagesCreated)
	assert.Equal(t, 0, result.MessagesKnown)
	assert.Len(t, result.Occurrences, 2)
}

func TestProcessCollapsesSameQuotedMessageAcrossSeparateEmails(t *testing.T) {
	db := newTestDB(t)
	messages := contentstore.NewMessageRepository(db)
	occurrences := contentstore.NewOccurrenceRepository(db)
	ctx := context.Background()

	// The original message, ingested on its own first.
	originalHdr := Headers{
		Subject: "Quarterly numbers",
		From:    "bob@example.com",
		Date:    time.Date(2021, 5, 3, 9, 0, 0, 0, time.UTC),
	}
	originalBody := "the original message body"
	first, err := Process(ctx, messages, occurrences, "email-original", originalHdr, originalBody)
	require.NoError(t, err)
	require.Equal(t, 1, first.MessagesCreated)

	// A later, separate email from a different sender quotes the same
	// original message via a Gmail-style "On ... wrote:" header. Without
	// recovering the quoted message's own sender/date, this would hash
	// against carol's identity instead of bob's and never collapse.
	laterHdr := Headers{
		Subject: "Re: Quarterly numbers",
		From:    "carol@example.com",
		Date:    time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	laterBody := "Thanks for this.\n\nOn Mon, May 3, 2021 at 9:00 AM, Bob Jones <bob@example.com> wrote:\n> the original message body"
	second, err := Process(ctx, messages, occurrences, "email-later", laterHdr, laterBody)
	require.NoError(t, err)

	assert.Equal(t, 1, second.MessagesCreated, "carol's own reply is new")
	assert.Equal(t, 1, second.MessagesKnown, "the quoted original should collapse against the first ingest")

	quotedOcc := second.Occurrences[len(second.Occurrences)-1]
	assert.Equal(t, first.Occurrences[0].MessageHash, quotedOcc.MessageHash)
}

func TestProcessDropsSignatureOnlySegmentButKeepsOccurrence(t *testing.T) {
	db := newTestDB(t)
	messages := contentstore.NewMessageRepository(db)
	occurrences := contentstore.NewOccurrenceRepository(db)
	ctx := context.Background()

	hdr := Headers{Subject: "Hi", From: "alice@example.com", Date: time.Now()}
	body := "Real message body with real content.\n\n--------- Forwarded message ---------\nOk"

	result, err := Process(ctx, messages, occurrences, "email-sig", hdr, body)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MessagesCreated)
	assert.Len(t, result.Occurrences, 2, "the tiny forwarded segment is still recorded as an occurrence")
}
