package searcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fusesearch/internal/embed"
	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

func fixtureItems() []*store.Item {
	mk := func(path, lang string, kind store.Kind, content string) *store.Item {
		return &store.Item{
			ID: store.ItemID(path), Path: path, Language: lang, Kind: kind,
			Title: path, Content: content, Size: int64(len(content)),
		}
	}
	return []*store.Item{
		mk("config/loader.go", "go", store.KindCode, "func LoadConfig reads YAML settings"),
		mk("docs/config.md", "markdown", store.KindDocs, "configuration reference for every setting"),
		mk("server/http.go", "go", store.KindCode, "StartServer opens the HTTP listener socket"),
	}
}

type fixture struct {
	embedder *embed.StaticEmbedder
	vectors  *store.HNSWStore
	items    *store.SQLiteItemStore
	lexical  store.LexicalIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{embedder: embed.NewStaticEmbedder(0)}

	var err error
	f.vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(f.embedder.Dimensions()))
	require.NoError(t, err)
	f.items, err = store.NewSQLiteItemStore("")
	require.NoError(t, err)
	f.lexical, err = store.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.items.Close()
		_ = f.lexical.Close()
	})

	items := fixtureItems()
	require.NoError(t, f.items.SaveItems(ctx, items))
	require.NoError(t, f.lexical.Index(ctx, items))
	ids := make([]string, len(items))
	texts := make([]string, len(items))
	for i, it := range items {
		ids[i], texts[i] = it.ID, it.Content
	}
	vecs, err := f.embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Add(ctx, ids, vecs))
	return f
}

// scriptedEmbedder fails the first failures calls with err.
type scriptedEmbedder struct {
	calls    atomic.Int64
	failures int64
	err      error
}

func (e *scriptedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if n := e.calls.Add(1); n <= e.failures {
		return nil, e.err
	}
	v := make([]float32, embed.StaticDimensions)
	v[0] = 1
	return v, nil
}

func (e *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *scriptedEmbedder) Dimensions() int   { return embed.StaticDimensions }
func (e *scriptedEmbedder) ModelName() string { return "scripted" }
func (e *scriptedEmbedder) Close() error      { return nil }

func fastRetry(n int) apperrors.RetryConfig {
	return apperrors.RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestNewSearchers_NilDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewLexicalSearcher(nil)
	assert.ErrorIs(t, err, ErrNilLexicalIndex)
	_, err = NewSemanticSearcher(nil, f.vectors, f.items)
	assert.ErrorIs(t, err, ErrNilEmbedder)
	_, err = NewSemanticSearcher(f.embedder, nil, f.items)
	assert.ErrorIs(t, err, ErrNilVectorStore)
	_, err = NewSemanticSearcher(f.embedder, f.vectors, nil)
	assert.ErrorIs(t, err, ErrNilItemStore)
}

func TestLexicalSearcher_RanksFromOne(t *testing.T) {
	f := newFixture(t)
	s, err := NewLexicalSearcher(f.lexical)
	require.NoError(t, err)

	hits, err := s.SearchLexical(context.Background(), "LoadConfig", nil, 10)

	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, store.ItemID("config/loader.go"), hits[0].ItemID)
	for i, h := range hits {
		assert.Equal(t, i+1, h.Rank)
	}
}

func TestLexicalSearcher_UnknownFilterIsInvalidQuery(t *testing.T) {
	f := newFixture(t)
	s, _ := NewLexicalSearcher(f.lexical)

	_, err := s.SearchLexical(context.Background(), "x", map[string]string{"owner": "me"}, 10)

	assert.Equal(t, fusion.FailureInvalidQuery, fusion.Classify(err))
}

func TestSemanticSearcher_ThresholdAndRanks(t *testing.T) {
	f := newFixture(t)
	s, err := NewSemanticSearcher(f.embedder, f.vectors, f.items)
	require.NoError(t, err)
	ctx := context.Background()

	// When: the query is an indexed text verbatim and the threshold is high
	hits, err := s.SearchSemantic(ctx, "StartServer opens the HTTP listener socket", nil, 10, 0.99)

	// Then: only the identical item survives
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, store.ItemID("server/http.go"), hits[0].ItemID)
	assert.Equal(t, 1, hits[0].Rank)
	assert.InDelta(t, 1.0, hits[0].RawScore, 1e-3)

	// And: with no threshold every item is returned, best first
	all, err := s.SearchSemantic(ctx, "StartServer opens the HTTP listener socket", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, hits[0].ItemID, all[0].ItemID)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i].RawScore, all[i-1].RawScore)
		assert.Equal(t, i+1, all[i].Rank)
	}
}

func TestSemanticSearcher_Filters(t *testing.T) {
	f := newFixture(t)
	s, _ := NewSemanticSearcher(f.embedder, f.vectors, f.items)

	hits, err := s.SearchSemantic(context.Background(), "config settings", map[string]string{store.FilterLanguage: "markdown"}, 10, 0)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, store.ItemID("docs/config.md"), hits[0].ItemID)
	assert.Equal(t, 1, hits[0].Rank)

	_, err = s.SearchSemantic(context.Background(), "x", map[string]string{"owner": "me"}, 10, 0)
	assert.Equal(t, fusion.FailureInvalidQuery, fusion.Classify(err))
}

func TestSemanticSearcher_RetriesEmbeddingFailures(t *testing.T) {
	f := newFixture(t)
	emb := &scriptedEmbedder{failures: 2, err: errors.New("model busy")}
	s, _ := NewSemanticSearcher(emb, f.vectors, f.items, WithRetryConfig(fastRetry(2)))

	_, err := s.SearchSemantic(context.Background(), "anything", nil, 5, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(3), emb.calls.Load())
}

func TestSemanticSearcher_OpenCircuitIsUnavailable(t *testing.T) {
	f := newFixture(t)
	emb := &scriptedEmbedder{failures: 100, err: errors.New("model crashed")}
	cb := apperrors.NewCircuitBreaker("test", apperrors.WithMaxFailures(1), apperrors.WithResetTimeout(time.Hour))
	s, _ := NewSemanticSearcher(emb, f.vectors, f.items, WithRetryConfig(fastRetry(0)), WithCircuitBreaker(cb))
	ctx := context.Background()

	// Given: one failure trips the breaker
	_, err := s.SearchSemantic(ctx, "q", nil, 5, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.StateOpen, s.BreakerState())

	// When: the next query arrives
	_, err = s.SearchSemantic(ctx, "q", nil, 5, 0)

	// Then: the embedder is not called and the failure is backend_unavailable
	assert.Equal(t, fusion.FailureBackendUnavailable, fusion.Classify(err))
	assert.Equal(t, int64(1), emb.calls.Load())
}

func TestSemanticSearcher_CanceledQueriesDoNotTripBreaker(t *testing.T) {
	f := newFixture(t)
	cb := apperrors.NewCircuitBreaker("test", apperrors.WithMaxFailures(1), apperrors.WithResetTimeout(time.Hour))
	s, _ := NewSemanticSearcher(f.embedder, f.vectors, f.items, WithRetryConfig(fastRetry(0)), WithCircuitBreaker(cb))

	// Given: several queries whose callers already gave up
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := s.SearchSemantic(ctx, "q", nil, 5, 0)
		require.Error(t, err)
	}

	// Then: the breaker stays closed and a live query is served
	assert.Equal(t, apperrors.StateClosed, s.BreakerState())
	hits, err := s.SearchSemantic(context.Background(), "StartServer", nil, 5, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestSemanticSearcher_ClosedStoreIsUnavailable(t *testing.T) {
	f := newFixture(t)
	s, _ := NewSemanticSearcher(f.embedder, f.vectors, f.items)
	require.NoError(t, f.vectors.Close())

	_, err := s.SearchSemantic(context.Background(), "q", nil, 5, 0)

	assert.Equal(t, fusion.FailureBackendUnavailable, fusion.Classify(err))
}

func TestSearchers_DriveFuseSearch(t *testing.T) {
	f := newFixture(t)
	lex, _ := NewLexicalSearcher(f.lexical)
	sem, _ := NewSemanticSearcher(f.embedder, f.vectors, f.items)
	fs, err := fusion.NewSearcher(lex, sem)
	require.NoError(t, err)

	res, err := fs.FuseSearch(context.Background(), fusion.SearchQuery{Text: "LoadConfig", MaxResults: 3})

	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, store.ItemID("config/loader.go"), res.Hits[0].ItemID)
	assert.True(t, res.Hits[0].FoundByBoth())
	assert.False(t, res.Degraded)
}

// shuffledVectors returns fixed results in the order given, regardless of
// the query.
type shuffledVectors struct {
	store.VectorStore
	results []*store.VectorResult
}

func (v *shuffledVectors) Search(context.Context, []float32, int) ([]*store.VectorResult, error) {
	return append([]*store.VectorResult(nil), v.results...), nil
}

func TestSemanticSearcher_RanksFollowSimilarity(t *testing.T) {
	// Given: a vector store that returns neighbours out of order
	f := newFixture(t)
	vectors := &shuffledVectors{results: []*store.VectorResult{
		{ID: "mid", Score: 0.5},
		{ID: "low", Score: 0.1},
		{ID: "top", Score: 0.9},
		{ID: "high", Score: 0.7},
	}}
	s, err := NewSemanticSearcher(f.embedder, vectors, f.items)
	require.NoError(t, err)

	// When: asking for fewer hits than returned
	hits, err := s.SearchSemantic(context.Background(), "anything", nil, 3, 0)

	// Then: the best three are kept, ranked by similarity
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, want := range []string{"top", "high", "mid"} {
		assert.Equal(t, want, hits[i].ItemID)
		assert.Equal(t, i+1, hits[i].Rank)
	}
}
