package health_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/config"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/embedding"
	"github.com/banks1923/email-sync/internal/health"
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

type stubEmbedder struct {
	status embedding.HealthStatus
}

func (s stubEmbedder) Health(ctx context.Context) embedding.HealthStatus { return s.status }

func TestAggregatorReportsHealthyWhenAllComponentsHealthy(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	embeddings := contentstore.NewEmbeddingRepository(db)
	embedder := stubEmbedder{status: embedding.HealthStatus{Status: "healthy", ModelName: "test-model", Dimension: 384}}
	index := vectorindex.NewMemoryAdapter()

	agg := health.New(db, embeddings, embedder, index, config.RuntimeMode{}, nil)
	report := agg.Check(ctx, false)

	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, 0, health.ExitCode(report, false))
}

func TestAggregatorReportsMockWhenEmbeddingIsMocked(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	embeddings := contentstore.NewEmbeddingRepository(db)
	embedder := stubEmbedder{status: embedding.HealthStatus{Status: "mock", ModelName: "mock"}}
	index := vectorindex.NewMemoryAdapter()

	agg := health.New(db, embeddings, embedder, index, config.RuntimeMode{}, nil)
	report := agg.Check(ctx, false)

	assert.Equal(t, health.StatusMock, report.Status)
	assert.Equal(t, 1, health.ExitCode(report, false))
	assert.Equal(t, 0, health.ExitCode(report, true), "TEST_MODE forces mock/degraded exit code to 0")
}

func TestAggregatorReportsErrorWhenVectorIndexUnavailable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	embeddings := contentstore.NewEmbeddingRepository(db)
	embedder := stubEmbedder{status: embedding.HealthStatus{Status: "healthy"}}
	disabledIndex, err := vectorindex.NewQdrantAdapter(vectorindex.QdrantConfig{Disabled: true})
	require.NoError(t, err)

	agg := health.New(db, embeddings, embedder, disabledIndex, config.RuntimeMode{}, nil)
	report := agg.Check(ctx, false)

	assert.Equal(t, health.StatusError, report.Status)
	assert.Equal(t, 2, health.ExitCode(report, false))
	assert.Equal(t, 2, health.ExitCode(report, true), "TEST_MODE never downgrades an error exit code")
}

func TestAggregatorDeepCheckReconcilesAgainstExpectedIDs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	embeddings := contentstore.NewEmbeddingRepository(db)
	embedder := stubEmbedder{status: embedding.HealthStatus{Status: "healthy"}}
	index := vectorindex.NewMemoryAdapter()

	agg := health.New(db, embeddings, embedder, index, config.RuntimeMode{AllowEmptyCollection: true}, nil)
	report := agg.Check(ctx, true)

	// No content rows and no vectors: with no expected ids there is nothing
	// to reconcile, so the deep vector check must not report error.
	assert.NotEqual(t, health.StatusError, report.Status)
}
