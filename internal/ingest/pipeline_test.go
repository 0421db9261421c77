package ingest_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/dedup"
	"github.com/banks1923/email-sync/internal/embedding"
	"github.com/banks1923/email-sync/internal/ingest"
	"github.com/banks1923/email-sync/internal/observability"
	"github.com/banks1923/email-sync/internal/validator"
	"github.com/banks1923/email-sync/internal/vectorindex"
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

func newPipeline(t *testing.T) (*ingest.Pipeline, *contentstore.Repositories) {
	t.Helper()
	db := newTestDB(t)
	repos := contentstore.NewRepositories(db)
	embedder := embedding.NewMockClient(8)
	index := vectorindex.NewMemoryAdapter()
	cfg := ingest.Config{
		Validator:        validator.Config{MinBodyChars: 5, MinYear: 2014},
		QuarantineReason: "test ingest",
	}
	p := ingest.New(observability.DefaultLogger(), cfg, repos, embedder, index)
	return p, repos
}

func TestIngestEmailQuarantinesInvalidRow(t *testing.T) {
	p, _ := newPipeline(t)
	row := validator.Row{EmailID: "not-a-valid-id", Subject: "", Body: "", DateSent: time.Now()}

	result, err := p.IngestEmail(context.Background(), row, dedup.Headers{}, "")
	require.NoError(t, err)
	assert.True(t, result.Quarantined)
	assert.NotEmpty(t, result.ViolationCategories)
}

func TestIngestEmailStoresAndIndexesValidMessage(t *testing.T) {
	p, repos := newPipeline(t)
	body := "Please see the attached lease renewal terms for unit 4B."
	row := validator.Row{EmailID: "1aaaaaaaaaaaaaaa", Subject: "Re: lease", Body: body, DateSent: time.Now()}
	hdr := dedup.Headers{Subject: "Re: lease", From: "a@example.com", Date: time.Now()}

	result, err := p.IngestEmail(context.Background(), row, hdr, body)
	require.NoError(t, err)
	assert.False(t, result.Quarantined)
	assert.Equal(t, 1, result.MessagesCreated)
	require.Len(t, result.ContentIDs, 1)
	assert.Equal(t, 0, result.EmbeddingFailures)

	stored, err := repos.Content.GetByID(context.Background(), result.ContentIDs[0])
	require.NoError(t, err)
	assert.True(t, stored.EmbeddingGenerated)

	emb, err := repos.Embeddings.Get(context.Background(), result.ContentIDs[0])
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 8)
}

func TestIngestDocumentStoresParentAndChunks(t *testing.T) {
	p, repos := newPipeline(t)
	body := "The roof was replaced in 2019. The HVAC system was serviced last spring. " +
		"Tenants reported no issues with plumbing during the inspection period."

	result, err := p.IngestDocument(context.Background(), "Inspection report", body)
	require.NoError(t, err)
	assert.NotZero(t, result.ParentContentID)
	assert.Greater(t, result.ChunksCreated+result.ChunksSkipped, 0)

	parent, err := repos.Content.GetByID(context.Background(), result.ParentContentID)
	require.NoError(t, err)
	assert.Equal(t, contentstore.SourceDocument, parent.SourceType)
}
