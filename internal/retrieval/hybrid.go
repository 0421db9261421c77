package retrieval

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/config"
)

// Hybrid implements the §4.6.4 reciprocal-rank-fusion merge:
//
//	score(i) = w_s/(k+r_s(i)) + w_k/(k+r_k(i))
//
// A result missing from one ranking simply drops that ranking's term
// (its rank is treated as +infinity, i.e. contributes zero) rather than
// being penalized explicitly. Results are deduplicated by content id,
// sorted by score descending, ties broken by (updated_at DESC, id ASC).
func (e *Engine) Hybrid(ctx context.Context, rawText string, limit int, filters Filters, why bool) ([]Hit, error) {
	q, err := ValidateQuery(rawText, limit, filters, why)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if hits, ok := e.cache.Get(ctx, "hybrid", q); ok {
			return hits, nil
		}
	}

	// Pull a larger candidate pool from each ranking so the fused top-N
	// isn't starved by either source's own limit.
	poolSize := q.Limit * 2

	// No silent keyword-only fallback: if the vector index is unavailable,
	// hybrid fails the same way semantic search alone would.
	semanticHits, err := e.Semantic(ctx, q.Text, poolSize, filters, false)
	if err != nil {
		return nil, err
	}
	literalHits, err := e.Literal(ctx, q.Text, poolSize, filters, nil, false)
	if err != nil {
		return nil, err
	}

	merged := make(map[uuid.UUID]*Hit)
	for _, h := range semanticHits {
		id := h.Content.ID
		merged[id] = &Hit{Content: h.Content, SemanticRank: h.SemanticRank}
	}
	for _, h := range literalHits {
		id := h.Content.ID
		if existing, ok := merged[id]; ok {
			existing.KeywordRank = h.KeywordRank
			continue
		}
		merged[id] = &Hit{Content: h.Content, KeywordRank: h.KeywordRank}
	}

	rrf := e.cfg.Hybrid
	hits := make([]Hit, 0, len(merged))
	for _, h := range merged {
		h.Score = rrfScore(h.SemanticRank, h.KeywordRank, rrf)
		if q.Why {
			if h.SemanticRank > 0 {
				h.MatchSources = append(h.MatchSources, "semantic")
				h.MatchReasons = append(h.MatchReasons, "vector similarity")
			}
			if h.KeywordRank > 0 {
				h.MatchSources = append(h.MatchSources, "keyword")
				h.MatchReasons = append(h.MatchReasons, "substring match")
			}
		}
		hits = append(hits, *h)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Content.UpdatedAt.Equal(hits[j].Content.UpdatedAt) {
			return hits[i].Content.UpdatedAt.After(hits[j].Content.UpdatedAt)
		}
		return hits[i].Content.ID.String() < hits[j].Content.ID.String()
	})

	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	if e.cache != nil {
		_ = e.cache.Set(ctx, "hybrid", q, hits)
	}
	return hits, nil
}

// rrfScore applies the reciprocal-rank-fusion formula; a zero rank means
// "not present in that ranking" and contributes nothing.
func rrfScore(semanticRank, keywordRank int, cfg config.HybridConfig) float64 {
	var score float64
	if semanticRank > 0 {
		score += cfg.WSemantic / float64(cfg.K+semanticRank)
	}
	if keywordRank > 0 {
		score += cfg.WKeyword / float64(cfg.K+keywordRank)
	}
	return score
}
