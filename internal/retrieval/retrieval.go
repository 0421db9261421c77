// Package retrieval implements C6: semantic search, literal pattern
// search, and hybrid reciprocal-rank-fusion merge over the content store.
package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/config"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/embedding"
	"github.com/banks1923/email-sync/internal/observability"
	"github.com/banks1923/email-sync/internal/vectorindex"
)

// Hit is one retrieval result, carrying enough provenance to explain
// itself when a caller asks why() (§4.6.4 match_sources/match_reasons).
type Hit struct {
	Content      *contentstore.Content
	Score        float64
	SemanticRank int // 0 means "not ranked by this source"
	KeywordRank  int
	MatchSources []string
	MatchReasons []string
}

// Filters mirrors contentstore.Filters at the retrieval boundary; kept as
// a separate type so C6's input-validation rules (known keys only) don't
// leak into C1's repository contract.
type Filters struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Tags     []string
	TagLogic contentstore.TagLogic
}

func (f Filters) toContentStore(sourceTypes []contentstore.SourceType) contentstore.Filters {
	return contentstore.Filters{
		DateFrom:    f.DateFrom,
		DateTo:      f.DateTo,
		SourceTypes: sourceTypes,
		Tags:        f.Tags,
		TagLogic:    f.TagLogic,
	}
}

// Engine wires C4 (embedder) and C5 (vector index) to the C1 content store
// to implement semantic, literal, and hybrid retrieval.
type Engine struct {
	content  *contentstore.ContentRepository
	embedder embedding.Embedder
	index    vectorindex.Adapter
	cache    *ResponseCache
	cfg      config.RetrievalConfig
	logger   *observability.Logger
}

// New creates a retrieval Engine. cache may be nil, disabling caching.
func New(content *contentstore.ContentRepository, embedder embedding.Embedder, index vectorindex.Adapter, cache *ResponseCache, cfg config.RetrievalConfig, logger *observability.Logger) *Engine {
	return &Engine{content: content, embedder: embedder, index: index, cache: cache, cfg: cfg, logger: logger}
}

// contentByID batch-loads C1 rows for a set of ids, preserving nothing
// about order — callers re-sort by their own ranking.
func (e *Engine) contentByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*contentstore.Content, error) {
	out := make(map[uuid.UUID]*contentstore.Content, len(ids))
	for _, id := range ids {
		c, err := e.content.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, contentstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}
