package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/errs"
)

// Semantic implements search(): validate, fail fast if the vector index is
// unavailable, encode the query, search the index at 2x the requested
// limit (to absorb rows a later C1 lookup can't resolve), then return the
// top Limit hits (§4.6.2).
func (e *Engine) Semantic(ctx context.Context, rawText string, limit int, filters Filters, why bool) ([]Hit, error) {
	q, err := ValidateQuery(rawText, limit, filters, why)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if hits, ok := e.cache.Get(ctx, "semantic", q); ok {
			return hits, nil
		}
	}

	if !e.index.Available(ctx) {
		return nil, &errs.ConnectionError{Target: "vector_index", Err: errVectorIndexUnavailable}
	}

	vectors, err := e.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, err
	}

	matches, err := e.index.Search(ctx, vectors[0], q.Limit*2)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ContentID)
	}
	rows, err := e.contentByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, q.Limit)
	rank := 0
	for _, m := range matches {
		c, ok := rows[m.ContentID]
		if !ok {
			continue
		}
		rank++
		hit := Hit{Content: c, Score: m.Score, SemanticRank: rank}
		if q.Why {
			hit.MatchSources = []string{"semantic"}
			hit.MatchReasons = []string{"vector similarity"}
		}
		hits = append(hits, hit)
		if len(hits) >= q.Limit {
			break
		}
	}
	if e.cache != nil {
		_ = e.cache.Set(ctx, "semantic", q, hits)
	}
	return hits, nil
}

var errVectorIndexUnavailable = errUnavailable("vector index unavailable")

type errUnavailable string

func (e errUnavailable) Error() string { return string(e) }
