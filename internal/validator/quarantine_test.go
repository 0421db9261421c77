package validator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/contentstore"
)

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

func TestQuarantineBatchSeparatesAcceptedFromQuarantined(t *testing.T) {
	db := newTestDB(t)
	repo := contentstore.NewQuarantineRepository(db)
	ctx := context.Background()

	rows := []Row{
		validRow(),
		{EmailID: "not-an-id", Subject: "", Body: "hi", DateSent: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	result, err := QuarantineBatch(ctx, repo, rows, Config{MinBodyChars: 10}, "test scan")
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Equal(t, 1, result.Quarantined)
	assert.NotZero(t, result.BatchID)
	assert.Greater(t, result.ByViolation[contentstore.ViolationBadID], 0)
}

func TestCIGateFailsOnAnyViolationCategory(t *testing.T) {
	db := newTestDB(t)
	repo := contentstore.NewQuarantineRepository(db)
	ctx := context.Background()

	// A row that trips only TINY_BODY, not BAD_ID or TEST_DATA_BLOCKED.
	rows := []Row{{
		EmailID:    "1aaaaaaaaaaaaaaa",
		Subject:    "Short",
		Body:       "hi",
		DateSent:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		SourceType: contentstore.SourceEmailMessage,
	}}

	result, err := QuarantineBatch(ctx, repo, rows, Config{MinBodyChars: 10}, "ci scan")
	require.NoError(t, err)
	require.Equal(t, 1, result.Quarantined)

	report := CIGate(len(rows), result)
	assert.False(t, report.Passed(), "a TINY_BODY-only batch must still fail ci_gate")
}

func TestCIGatePassesWhenNothingQuarantined(t *testing.T) {
	db := newTestDB(t)
	repo := contentstore.NewQuarantineRepository(db)
	ctx := context.Background()

	rows := []Row{validRow()}
	result, err := QuarantineBatch(ctx, repo, rows, Config{}, "clean scan")
	require.NoError(t, err)

	report := CIGate(len(rows), result)
	assert.True(t, report.Passed())
}

func TestRollbackBatchRestoresContentAsPending(t *testing.T) {
	db := newTestDB(t)
	quarantineRepo := contentstore.NewQuarantineRepository(db)
	contentRepo := contentstore.NewContentRepository(db)
	ctx := context.Background()

	badRow := Row{
		EmailID:    "not-an-id",
		Subject:    "Recovered filing",
		Body:       "This body is long enough to pass the tiny-body rule easily.",
		DateSent:   time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		SourceType: contentstore.SourceEmailMessage,
	}

	result, err := QuarantineBatch(ctx, quarantineRepo, []Row{badRow}, Config{}, "bad id scan")
	require.NoError(t, err)
	require.NotZero(t, result.BatchID)

	restored, err := RollbackBatch(ctx, quarantineRepo, contentRepo, result.BatchID)
	require.NoError(t, err)
	require.Len(t, restored, 1)

	c := restored[0]
	assert.NotEqual(t, "", c.SHA256)
	assert.Equal(t, contentstore.ComputeSHA256(badRow.SourceType, badRow.Subject, badRow.Body), c.SHA256)
	assert.Equal(t, contentstore.ValidationPending, c.ValidationStatus)

	fetched, err := contentRepo.GetBySHA256(ctx, c.SHA256)
	require.NoError(t, err)
	assert.Equal(t, contentstore.ValidationPending, fetched.ValidationStatus)

	batch, err := quarantineRepo.Batch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.NotNil(t, batch.RolledBackAt)
}
