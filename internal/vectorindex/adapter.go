// Package vectorindex implements C5: the vector index adapter interface,
// an in-memory mock used under TEST_MODE/SKIP_MODEL_LOAD, and a Qdrant-backed
// production adapter.
package vectorindex

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/cache"
	"github.com/banks1923/email-sync/internal/errs"
)

// Payload is the small metadata envelope stored alongside a vector, per
// §4.5 ("payload is a small metadata envelope, not full body") and the
// wire contract in §6 (content_id/source_type/created_at only).
type Payload struct {
	ContentID  uuid.UUID
	SourceType string
	CreatedAt  time.Time
}

// Match is one similarity-search hit.
type Match struct {
	ContentID uuid.UUID
	Score     float64
	Payload   Payload
}

// Point is one (id, vector, payload) triple for batch_upsert.
type Point struct {
	ID       uuid.UUID
	Vector   []float32
	Payload  Payload
}

// Adapter is the C5 vector-index interface every backend implements.
type Adapter interface {
	Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload Payload) error
	BatchUpsert(ctx context.Context, points []Point) error
	Delete(ctx context.Context, ids []uuid.UUID) error
	Search(ctx context.Context, vector []float32, limit int) ([]Match, error)
	Available(ctx context.Context) bool
	Count(ctx context.Context) (int, error)
}

// ReconcileResult is the §4.5 parity report between C1's expected embedded
// ids and what the index actually holds.
type ReconcileResult struct {
	MissingInIndex []uuid.UUID // expected but absent from the index
	OrphanInIndex  []uuid.UUID // present in the index but not expected
	Delta          int         // len(MissingInIndex) + len(OrphanInIndex)
}

// Reconcile compares expectedIDs (typically contentstore's
// EmbeddingRepository.AllContentIDs) against the ids an adapter actually
// holds. dryRun is accepted for signature symmetry with the spec's
// reconcile(expected_ids, dry_run); this package never mutates state during
// reconcile regardless — repair is a separate, explicit re-embed operation.
func Reconcile(ctx context.Context, adapter AllIDsLister, expectedIDs []uuid.UUID, dryRun bool) (*ReconcileResult, error) {
	actual, err := adapter.AllIDs(ctx)
	if err != nil {
		return nil, &errs.VectorStoreError{Op: "reconcile", Err: err}
	}

	actualSet := make(map[uuid.UUID]bool, len(actual))
	for _, id := range actual {
		actualSet[id] = true
	}
	expectedSet := make(map[uuid.UUID]bool, len(expectedIDs))
	for _, id := range expectedIDs {
		expectedSet[id] = true
	}

	result := &ReconcileResult{}
	for _, id := range expectedIDs {
		if !actualSet[id] {
			result.MissingInIndex = append(result.MissingInIndex, id)
		}
	}
	for _, id := range actual {
		if !expectedSet[id] {
			result.OrphanInIndex = append(result.OrphanInIndex, id)
		}
	}
	result.Delta = len(result.MissingInIndex) + len(result.OrphanInIndex)
	return result, nil
}

// AllIDsLister is implemented by adapters that can enumerate every id they
// hold, the only operation Reconcile needs beyond the Adapter interface.
type AllIDsLister interface {
	AllIDs(ctx context.Context) ([]uuid.UUID, error)
}

// HealthStatus is the §4.7 uniform health schema for C5.
type HealthStatus struct {
	Status  string // healthy | mock | degraded | error
	Details map[string]interface{}
	Hints   []string
}

// HealthCheck applies the zero-vector guard and delta-threshold policy from
// §4.5/§4.7: the collection must not be silently empty, and parity drift
// beyond deltaThreshold degrades the result rather than passing silently.
func HealthCheck(ctx context.Context, adapter Adapter, expectedIDs []uuid.UUID, allowEmptyCollection bool, deltaThreshold int) HealthStatus {
	if !adapter.Available(ctx) {
		return HealthStatus{Status: "error", Hints: []string{"vector index unavailable"}}
	}

	count, err := adapter.Count(ctx)
	if err != nil {
		return HealthStatus{Status: "error", Hints: []string{"failed to count collection: " + err.Error()}}
	}

	details := map[string]interface{}{"point_count": count, "expected_count": len(expectedIDs)}

	if count == 0 && len(expectedIDs) > 0 {
		if allowEmptyCollection {
			return HealthStatus{Status: "degraded", Details: details, Hints: []string{"collection is empty (ALLOW_EMPTY_COLLECTION=true)"}}
		}
		return HealthStatus{Status: "error", Details: details, Hints: []string{"collection exists but is empty; set ALLOW_EMPTY_COLLECTION=true to permit this"}}
	}

	lister, ok := adapter.(AllIDsLister)
	if !ok {
		return HealthStatus{Status: "healthy", Details: details}
	}
	reconciled, err := Reconcile(ctx, lister, expectedIDs, true)
	if err != nil {
		return HealthStatus{Status: "error", Details: details, Hints: []string{err.Error()}}
	}
	details["missing_in_index"] = len(reconciled.MissingInIndex)
	details["orphan_in_index"] = len(reconciled.OrphanInIndex)
	details["delta"] = reconciled.Delta

	if reconciled.Delta > deltaThreshold {
		return HealthStatus{Status: "degraded", Details: details, Hints: []string{"re-embed missing content"}}
	}
	if reconciled.Delta > 0 {
		return HealthStatus{Status: "degraded", Details: details, Hints: []string{"parity delta within threshold but nonzero"}}
	}
	return HealthStatus{Status: "healthy", Details: details}
}

// MemoryAdapter is an in-process, non-persistent Adapter used when
// cfg.Mode.Mock() is true, so tests and SKIP_MODEL_LOAD runs never reach a
// real Qdrant instance. Adapted from the teacher's FAISSAdapter, which plays
// the identical role for its own embedding pipeline.
type MemoryAdapter struct {
	mu       sync.RWMutex
	vectors  map[uuid.UUID][]float32
	payloads map[uuid.UUID]Payload
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		vectors:  make(map[uuid.UUID][]float32),
		payloads: make(map[uuid.UUID]Payload),
	}
}

func (a *MemoryAdapter) Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vectors[id] = vector
	a.payloads[id] = payload
	return nil
}

func (a *MemoryAdapter) BatchUpsert(ctx context.Context, points []Point) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range points {
		a.vectors[p.ID] = p.Vector
		a.payloads[p.ID] = p.Payload
	}
	return nil
}

func (a *MemoryAdapter) Delete(ctx context.Context, ids []uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.vectors, id)
		delete(a.payloads, id)
	}
	return nil
}

func (a *MemoryAdapter) Search(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	matches := make([]Match, 0, len(a.vectors))
	for id, v := range a.vectors {
		matches = append(matches, Match{ContentID: id, Score: cosineSimilarity(vector, v), Payload: a.payloads[id]})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (a *MemoryAdapter) Available(ctx context.Context) bool { return true }

func (a *MemoryAdapter) Count(ctx context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.vectors), nil
}

// AllIDs lists every id currently held, used by Reconcile.
func (a *MemoryAdapter) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(a.vectors))
	for id := range a.vectors {
		ids = append(ids, id)
	}
	return ids, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrtf(normA) * sqrtf(normB))
}

func sqrtf(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

var (
	_ Adapter       = (*MemoryAdapter)(nil)
	_ AllIDsLister  = (*MemoryAdapter)(nil)
)

// CachedAvailability wraps an Adapter so repeated Available() probes
// within ttl reuse the last result instead of re-dialing the vector
// store on every semantic/hybrid query and every health check. The
// underlying probe (Qdrant's CollectionExists) is still strict the
// first time within each window; this only rate-limits repetition,
// it never turns a hard failure into a soft one.
type CachedAvailability struct {
	Adapter
	cache cache.Client
	key   string
	ttl   time.Duration
}

// NewCachedAvailability wraps adapter with an Available() result cache.
// A nil cache.Client disables caching and every call probes directly.
func NewCachedAvailability(adapter Adapter, c cache.Client, ttl time.Duration) *CachedAvailability {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &CachedAvailability{Adapter: adapter, cache: c, key: "vectorindex:available", ttl: ttl}
}

func (c *CachedAvailability) Available(ctx context.Context) bool {
	if c.cache == nil {
		return c.Adapter.Available(ctx)
	}
	if cached, err := c.cache.Get(ctx, c.key); err == nil {
		return len(cached) == 1 && cached[0] == 1
	}
	available := c.Adapter.Available(ctx)
	b := byte(0)
	if available {
		b = 1
	}
	_ = c.cache.Set(ctx, c.key, []byte{b}, c.ttl)
	return available
}

// AllIDs passes through to the wrapped adapter when it supports listing,
// so CachedAvailability still satisfies AllIDsLister for Reconcile/HealthCheck.
func (c *CachedAvailability) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	lister, ok := c.Adapter.(AllIDsLister)
	if !ok {
		return nil, &errs.VectorStoreError{Op: "all_ids", Err: errUnsupported}
	}
	return lister.AllIDs(ctx)
}

var errUnsupported = errorString("adapter does not support listing all ids")

type errorString string

func (e errorString) Error() string { return string(e) }

var (
	_ Adapter      = (*CachedAvailability)(nil)
	_ AllIDsLister = (*CachedAvailability)(nil)
)
