package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/banks1923/email-sync/internal/errs"
)

// QdrantAdapter is the production C5 backend. Honors QDRANT_DISABLED by
// reporting Available() == false without ever dialing out (§9's
// RuntimeMode.QdrantDisabled).
type QdrantAdapter struct {
	client         *qdrant.Client
	collectionName string
	dimension      int
	disabled       bool
	probeTimeout   time.Duration
}

// QdrantConfig configures the adapter's connection.
type QdrantConfig struct {
	URL            string
	CollectionName string
	Dimension      int
	APIKey         string
	Disabled       bool
	ProbeTimeout   time.Duration
}

// NewQdrantAdapter dials Qdrant unless cfg.Disabled, in which case it
// returns an adapter whose Available() is always false and whose mutating
// calls fail fast rather than attempt a connection.
func NewQdrantAdapter(cfg QdrantConfig) (*QdrantAdapter, error) {
	if cfg.Disabled {
		return &QdrantAdapter{collectionName: cfg.CollectionName, dimension: cfg.Dimension, disabled: true}, nil
	}

	host, port, err := splitHostPort(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url %q: %w", cfg.URL, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, &errs.ConnectionError{Target: "qdrant", Err: err}
	}

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 500 * time.Millisecond
	}

	return &QdrantAdapter{
		client:         client,
		collectionName: cfg.CollectionName,
		dimension:      cfg.Dimension,
		probeTimeout:   probeTimeout,
	}, nil
}

// EnsureCollection creates the collection if it doesn't exist yet.
// Idempotent.
func (a *QdrantAdapter) EnsureCollection(ctx context.Context) error {
	if a.disabled {
		return &errs.VectorStoreError{Op: "ensure_collection", Err: errDisabled}
	}
	exists, err := a.client.CollectionExists(ctx, a.collectionName)
	if err != nil {
		return &errs.VectorStoreError{Op: "ensure_collection", Err: err}
	}
	if exists {
		return nil
	}
	err = a.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: a.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(a.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return &errs.VectorStoreError{Op: "ensure_collection", Err: err}
	}
	return nil
}

func (a *QdrantAdapter) Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload Payload) error {
	return a.BatchUpsert(ctx, []Point{{ID: id, Vector: vector, Payload: payload}})
}

func (a *QdrantAdapter) BatchUpsert(ctx context.Context, points []Point) error {
	if a.disabled {
		return &errs.VectorStoreError{Op: "batch_upsert", Err: errDisabled}
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID.String()),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content_id":  p.Payload.ContentID.String(),
				"source_type": p.Payload.SourceType,
				"created_at":  p.Payload.CreatedAt.Format(time.RFC3339),
			}),
		}
	}

	_, err := a.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: a.collectionName,
		Points:         qpoints,
	})
	if err != nil {
		return &errs.VectorStoreError{Op: "batch_upsert", Err: err}
	}
	return nil
}

func (a *QdrantAdapter) Delete(ctx context.Context, ids []uuid.UUID) error {
	if a.disabled {
		return &errs.VectorStoreError{Op: "delete", Err: errDisabled}
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}
	_, err := a.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: a.collectionName,
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return &errs.VectorStoreError{Op: "delete", Err: err}
	}
	return nil
}

func (a *QdrantAdapter) Search(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	if a.disabled {
		return nil, &errs.VectorStoreError{Op: "search", Err: errDisabled}
	}
	limit64 := uint64(limit)
	resp, err := a.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &errs.VectorStoreError{Op: "search", Err: err}
	}

	matches := make([]Match, 0, len(resp))
	for _, point := range resp {
		id, err := uuid.Parse(point.Id.GetUuid())
		if err != nil {
			continue
		}
		matches = append(matches, Match{ContentID: id, Score: float64(point.Score), Payload: payloadFromFields(point.Payload)})
	}
	return matches, nil
}

// Count reports the number of points currently held, for the §4.5
// zero-vector health guard.
func (a *QdrantAdapter) Count(ctx context.Context) (int, error) {
	if a.disabled {
		return 0, &errs.VectorStoreError{Op: "count", Err: errDisabled}
	}
	exact := true
	n, err := a.client.Count(ctx, &qdrant.CountPoints{CollectionName: a.collectionName, Exact: &exact})
	if err != nil {
		return 0, &errs.VectorStoreError{Op: "count", Err: err}
	}
	return int(n), nil
}

// AllIDs scrolls the entire collection to list every point id, used by
// Reconcile. Qdrant collections in this system are small enough (single
// user, single host) that one scroll page sized to the exact point count is
// acceptable.
func (a *QdrantAdapter) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	if a.disabled {
		return nil, &errs.VectorStoreError{Op: "all_ids", Err: errDisabled}
	}
	n, err := a.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []uuid.UUID{}, nil
	}
	limit := uint32(n)
	withPayload := qdrant.NewWithPayload(false)
	withVectors := qdrant.NewWithVectors(false)
	points, err := a.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: a.collectionName,
		WithPayload:    withPayload,
		WithVectors:    withVectors,
		Limit:          &limit,
	})
	if err != nil {
		return nil, &errs.VectorStoreError{Op: "all_ids", Err: err}
	}
	ids := make([]uuid.UUID, 0, len(points))
	for _, p := range points {
		id, err := uuid.Parse(p.Id.GetUuid())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func payloadFromFields(fields map[string]*qdrant.Value) Payload {
	p := Payload{}
	if v, ok := fields["content_id"]; ok {
		if id, err := uuid.Parse(v.GetStringValue()); err == nil {
			p.ContentID = id
		}
	}
	if v, ok := fields["source_type"]; ok {
		p.SourceType = v.GetStringValue()
	}
	if v, ok := fields["created_at"]; ok {
		if t, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			p.CreatedAt = t
		}
	}
	return p
}

// Available reports whether Qdrant answers within the configured probe
// timeout, honoring QDRANT_DISABLED as an immediate false.
func (a *QdrantAdapter) Available(ctx context.Context) bool {
	if a.disabled || a.client == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()
	_, err := a.client.CollectionExists(probeCtx, a.collectionName)
	return err == nil
}

func splitHostPort(url string) (string, int, error) {
	host, portStr, err := splitLast(url, ':')
	if err != nil {
		return "", 0, err
	}
	port := 0
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return "", 0, fmt.Errorf("invalid port %q", portStr)
		}
		port = port*10 + int(r-'0')
	}
	return host, port, nil
}

func splitLast(s string, sep byte) (string, string, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == sep {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no %q separator in %q", string(sep), s)
}

var errDisabled = &disabledError{}

type disabledError struct{}

func (*disabledError) Error() string { return "qdrant disabled via QDRANT_DISABLED" }

var (
	_ Adapter      = (*QdrantAdapter)(nil)
	_ AllIDsLister = (*QdrantAdapter)(nil)
)
