package retrieval

import (
	"context"

	"github.com/banks1923/email-sync/internal/contentstore"
)

// Literal implements find_literal(): a parameterized substring match over
// title/body/substantive_text, excluding the raw email source types by
// default, ordered (updated_at DESC, id DESC) (§4.6.3).
func (e *Engine) Literal(ctx context.Context, rawText string, limit int, filters Filters, sourceTypes []contentstore.SourceType, why bool) ([]Hit, error) {
	q, err := ValidateQuery(rawText, limit, filters, why)
	if err != nil {
		return nil, err
	}

	excludeEmail := len(sourceTypes) == 0
	rows, err := e.content.Search(ctx, q.Text, q.Filters.toContentStore(sourceTypes), excludeEmail, q.Limit, 0)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for rank, c := range rows {
		hit := Hit{Content: c, KeywordRank: rank + 1}
		if q.Why {
			hit.MatchSources = []string{"keyword"}
			hit.MatchReasons = []string{"substring match"}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
