package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapterUpsertSearch(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	id := uuid.New()
	require.NoError(t, a.Upsert(ctx, id, []float32{1, 0, 0}, Payload{ContentID: id, SourceType: "document", CreatedAt: time.Now()}))

	matches, err := a.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ContentID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "document", matches[0].Payload.SourceType)
}

func TestMemoryAdapterBatchUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	id := uuid.New()
	points := []Point{{ID: id, Vector: []float32{0, 1, 0}, Payload: Payload{ContentID: id}}}

	require.NoError(t, a.BatchUpsert(ctx, points))
	require.NoError(t, a.BatchUpsert(ctx, points))

	count, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryAdapterDelete(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	id := uuid.New()
	require.NoError(t, a.Upsert(ctx, id, []float32{1, 1}, Payload{}))
	require.NoError(t, a.Delete(ctx, []uuid.UUID{id}))

	count, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReconcileDetectsMissingAndOrphan(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	expected := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	// Only embed the first expected id, plus one orphan the store never asked for.
	require.NoError(t, a.Upsert(ctx, expected[0], []float32{1}, Payload{}))
	orphan := uuid.New()
	require.NoError(t, a.Upsert(ctx, orphan, []float32{1}, Payload{}))

	result, err := Reconcile(ctx, a, expected, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{expected[1], expected[2]}, result.MissingInIndex)
	assert.ElementsMatch(t, []uuid.UUID{orphan}, result.OrphanInIndex)
	assert.Equal(t, 3, result.Delta)
}

func TestReconcileParityScenario(t *testing.T) {
	// §8 scenario 4: 1,003 rows flagged ready, index holds 8 points.
	ctx := context.Background()
	a := NewMemoryAdapter()

	expected := make([]uuid.UUID, 1003)
	for i := range expected {
		expected[i] = uuid.New()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, a.Upsert(ctx, expected[i], []float32{1}, Payload{}))
	}

	result, err := Reconcile(ctx, a, expected, true)
	require.NoError(t, err)
	assert.Len(t, result.MissingInIndex, 995)
	assert.Empty(t, result.OrphanInIndex)
	assert.Equal(t, 995, result.Delta)
}

func TestHealthCheckZeroVectorGuard(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	expected := []uuid.UUID{uuid.New()}

	status := HealthCheck(ctx, a, expected, false, 0)
	assert.Equal(t, "error", status.Status)

	status = HealthCheck(ctx, a, expected, true, 0)
	assert.Equal(t, "degraded", status.Status)
}

func TestHealthCheckDeltaThreshold(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	id := uuid.New()
	require.NoError(t, a.Upsert(ctx, id, []float32{1}, Payload{}))
	missing := uuid.New()

	status := HealthCheck(ctx, a, []uuid.UUID{id, missing}, false, 5)
	assert.Equal(t, "degraded", status.Status)

	status = HealthCheck(ctx, a, []uuid.UUID{id}, false, 0)
	assert.Equal(t, "healthy", status.Status)
}
