package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banks1923/email-sync/internal/config"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/retrieval"
	"github.com/banks1923/email-sync/internal/vectorindex"
)

// fixedEmbedder always returns the same query vector, letting tests pin
// semantic ranking to vectors inserted directly into the index rather than
// depending on a real or mock encoder's hashing behavior.
type fixedEmbedder struct {
	vector []float32
}

func (f fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}
func (f fixedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}
func (f fixedEmbedder) Model() string  { return "fixed" }
func (f fixedEmbedder) Dimension() int { return len(f.vector) }

func addDoc(t *testing.T, ctx context.Context, repo *contentstore.ContentRepository, title, body string) *contentstore.Content {
	t.Helper()
	c := &contentstore.Content{SourceType: contentstore.SourceDocument, Title: title, Body: body, ReadyForEmbedding: true}
	require.NoError(t, repo.Add(ctx, c, contentstore.AddStrict, nil))
	return c
}

func TestHybridRankingDeterminism(t *testing.T) {
	// §8 scenario 3: semantic ranks [A(1),B(2),C(3)], keyword ranks
	// [B(1),A(2),D(3)]; expected fused order A > B > C > D.
	ctx := context.Background()
	db := newTestDB(t)
	repos := contentstore.NewRepositories(db)

	a := addDoc(t, ctx, repos.Content, "Lighthouse keeper's log", "the lighthouse beam swept the bay")
	b := addDoc(t, ctx, repos.Content, "Coastal survey", "a lighthouse stood at the point")
	c := addDoc(t, ctx, repos.Content, "Harbor notes", "the harbor was calm this morning")
	d := addDoc(t, ctx, repos.Content, "Keeper's diary", "lighthouse duty continues as scheduled")

	// Control literal ranking via explicit updated_at ordering: B newest,
	// then A, then D oldest, with C last/unused.
	base := time.Now().Add(-time.Hour)
	for i, row := range []struct {
		id uuid.UUID
		at time.Time
	}{
		{d.ID, base},
		{a.ID, base.Add(10 * time.Minute)},
		{b.ID, base.Add(20 * time.Minute)},
		{c.ID, base.Add(30 * time.Minute)},
	} {
		_, err := db.ExecContext(ctx, "UPDATE content SET updated_at = $1 WHERE id = $2", row.at, row.id)
		require.NoErrorf(t, err, "row %d", i)
	}

	index := vectorindex.NewMemoryAdapter()
	query := []float32{1, 0}
	require.NoError(t, index.Upsert(ctx, a.ID, []float32{1, 0}, vectorindex.Payload{ContentID: a.ID}))
	require.NoError(t, index.Upsert(ctx, b.ID, []float32{0.5, 0.5}, vectorindex.Payload{ContentID: b.ID}))
	require.NoError(t, index.Upsert(ctx, c.ID, []float32{0.1, 0.9}, vectorindex.Payload{ContentID: c.ID}))
	// d deliberately never indexed: must be semantic-invisible.

	cfg := config.RetrievalConfig{Hybrid: config.HybridConfig{K: 60, WSemantic: 0.7, WKeyword: 0.3}}
	engine := retrieval.New(repos.Content, fixedEmbedder{vector: query}, index, nil, cfg, nil)

	hits, err := engine.Hybrid(ctx, "lighthouse", 10, retrieval.Filters{}, false)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	gotIDs := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		gotIDs[i] = h.Content.ID
	}
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID, d.ID}, gotIDs)
}

func TestSemanticFailsFastWhenIndexUnavailable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repos := contentstore.NewRepositories(db)

	cfg := config.RetrievalConfig{Hybrid: config.HybridConfig{K: 60, WSemantic: 0.7, WKeyword: 0.3}}
	disabledIndex, err := vectorindex.NewQdrantAdapter(vectorindex.QdrantConfig{Disabled: true})
	require.NoError(t, err)

	engine := retrieval.New(repos.Content, fixedEmbedder{vector: []float32{1}}, disabledIndex, nil, cfg, nil)
	_, err = engine.Semantic(ctx, "anything", 10, retrieval.Filters{}, false)
	require.Error(t, err)
}

func TestLiteralExcludesEmailSourceTypesByDefault(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repos := contentstore.NewRepositories(db)

	doc := addDoc(t, ctx, repos.Content, "Contract draft", "breach of contract clause review")
	email := &contentstore.Content{SourceType: contentstore.SourceEmailMessage, Title: "Re: contract", Body: "breach of contract discussion"}
	require.NoError(t, repos.Content.Add(ctx, email, contentstore.AddStrict, nil))

	cfg := config.RetrievalConfig{Hybrid: config.HybridConfig{K: 60, WSemantic: 0.7, WKeyword: 0.3}}
	engine := retrieval.New(repos.Content, fixedEmbedder{vector: []float32{1}}, vectorindex.NewMemoryAdapter(), nil, cfg, nil)

	hits, err := engine.Literal(ctx, "breach of contract", 10, retrieval.Filters{}, nil, false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, doc.ID, hits[0].Content.ID)
}

func TestValidateQueryClampsLimitAndRejectsEmpty(t *testing.T) {
	q, err := retrieval.ValidateQuery("  hello  ", 0, retrieval.Filters{}, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", q.Text)
	assert.Equal(t, 20, q.Limit)

	q, err = retrieval.ValidateQuery("hi", 10000, retrieval.Filters{}, false)
	require.NoError(t, err)
	assert.Equal(t, 200, q.Limit)

	_, err = retrieval.ValidateQuery("   ", 10, retrieval.Filters{}, false)
	require.Error(t, err)
}
