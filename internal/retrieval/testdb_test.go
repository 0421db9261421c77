package retrieval_test

import (
	"context"
	"database/sql"
	"testing"

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
