package fusion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

type recordingObserver struct {
	mu      sync.Mutex
	records []SearchRecord
}

func (o *recordingObserver) ObserveSearch(rec SearchRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSearcher(t *testing.T, lex LexicalBackend, sem SemanticBackend, opts ...Option) *Searcher {
	t.Helper()
	s, err := NewSearcher(lex, sem, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestFuseSearch_LinearScenario(t *testing.T) {
	// Given: the worked example backends
	lex, sem := scenarioInputs()
	obs := &recordingObserver{}
	s := newTestSearcher(t, staticLexical(lex...), staticSemantic(sem...), WithObserver(obs))

	// When: searching with Linear 0.6/0.4
	res, err := s.FuseSearch(context.Background(), SearchQuery{
		Text:           "parse config",
		Strategy:       StrategyLinear,
		LexicalWeight:  0.6,
		SemanticWeight: 0.4,
		BothFoundBoost: 1.2,
		MaxResults:     10,
	})

	// Then: ordering, counts and instrumentation match
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids(res.Hits))
	assert.Equal(t, StrategyLinear, res.Strategy)
	assert.Equal(t, 2, res.LexicalCount)
	assert.Equal(t, 2, res.SemanticCount)
	assert.Equal(t, 1, res.BothFoundCount)
	assert.False(t, res.Degraded)
	assert.Positive(t, res.Elapsed)

	require.Len(t, obs.records, 1)
	rec := obs.records[0]
	assert.NotEmpty(t, rec.RequestID)
	assert.Equal(t, 3, rec.Hits)
	assert.Equal(t, 1, rec.BothFoundCount)
	assert.NoError(t, rec.Err)
}

func TestFuseSearch_SemanticTimeoutDegrades(t *testing.T) {
	// Given: a lexical list and a semantic backend that never answers
	lex := []BackendHit{
		{ItemID: "a", Rank: 1, RawScore: 12},
		{ItemID: "b", Rank: 2, RawScore: 8},
		{ItemID: "c", Rank: 3, RawScore: 2},
	}
	s := newTestSearcher(t, staticLexical(lex...), blockingSemantic(nil))

	// When: the semantic call times out
	res, err := s.FuseSearch(context.Background(), SearchQuery{
		Text:           "q",
		Strategy:       StrategyLinear,
		LexicalWeight:  1,
		SemanticWeight: 1,
		Timeout:        20 * time.Millisecond,
	})

	// Then: the result is the normalized lexical list alone
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, FailureTimeout, res.SemanticFailure)
	assert.Equal(t, 0, res.SemanticCount)
	require.Equal(t, []string{"a", "b", "c"}, ids(res.Hits))
	norm := NormalizeScores(lex)
	for _, h := range res.Hits {
		assert.InDelta(t, norm[h.ItemID], h.Score, 1e-12)
	}
}

func TestFuseSearch_EmptyBackendsEmptyResult(t *testing.T) {
	s := newTestSearcher(t, staticLexical(), staticSemantic())

	res, err := s.FuseSearch(context.Background(), SearchQuery{Text: "nothing matches"})

	require.NoError(t, err)
	require.NotNil(t, res.Hits)
	assert.Empty(t, res.Hits)
	assert.False(t, res.Degraded)
}

func TestFuseSearch_BothFailReturnsAppError(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSearcher(t,
		failingLexical(apperrors.InvalidQuery("bad", nil)),
		failingSemantic(errors.New("boom")),
		WithObserver(obs))

	res, err := s.FuseSearch(context.Background(), SearchQuery{Text: "q"})

	assert.Nil(t, res)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDispatchFailed))
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailureUnknown, de.Semantic.Failure)
	require.Len(t, obs.records, 1)
	assert.Error(t, obs.records[0].Err)
}

func TestFuseSearch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestSearcher(t, blockingLexical(nil), blockingSemantic(nil))

	res, err := s.FuseSearch(ctx, SearchQuery{Text: "q"})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuseSearch_AppliesDefaults(t *testing.T) {
	var limit atomic.Int32
	lex := LexicalFunc(func(ctx context.Context, text string, filters map[string]string, l int) ([]BackendHit, error) {
		limit.Store(int32(l))
		assert.Equal(t, "trimmed", text)
		return nil, nil
	})
	defaults := DefaultQueryDefaults()
	defaults.Strategy = StrategyMultiplicative
	defaults.MaxResults = 4
	s := newTestSearcher(t, lex, staticSemantic(), WithDefaults(defaults))

	res, err := s.FuseSearch(context.Background(), SearchQuery{Text: "  trimmed  "})

	require.NoError(t, err)
	assert.Equal(t, StrategyMultiplicative, res.Strategy)
	assert.Equal(t, int32(8), limit.Load())
}

func TestFuseSearch_ClampsMaxResults(t *testing.T) {
	var limit atomic.Int32
	lex := LexicalFunc(func(ctx context.Context, text string, filters map[string]string, l int) ([]BackendHit, error) {
		limit.Store(int32(l))
		return nil, nil
	})
	s := newTestSearcher(t, lex, staticSemantic())

	_, err := s.FuseSearch(context.Background(), SearchQuery{Text: "q", MaxResults: 5000})

	require.NoError(t, err)
	assert.Equal(t, int32(200), limit.Load())
}

func TestFuseSearch_Validation(t *testing.T) {
	s := newTestSearcher(t, staticLexical(), staticSemantic())

	tests := []struct {
		name  string
		query SearchQuery
		want  error
	}{
		{"empty text", SearchQuery{Text: "   "}, ErrEmptyQuery},
		{"bad strategy", SearchQuery{Text: "q", Strategy: "bm25"}, ErrInvalidQuery},
		{"negative max", SearchQuery{Text: "q", MaxResults: -1}, ErrInvalidQuery},
		{"negative weight", SearchQuery{Text: "q", LexicalWeight: -0.1, SemanticWeight: 1}, ErrInvalidQuery},
		{"threshold above one", SearchQuery{Text: "q", SemanticThreshold: 1.5}, ErrInvalidQuery},
		{"boost below one", SearchQuery{Text: "q", BothFoundBoost: 0.5}, ErrInvalidQuery},
		{"negative timeout", SearchQuery{Text: "q", Timeout: -time.Second}, ErrInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.FuseSearch(context.Background(), tt.query)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"linear":          StrategyLinear,
		"RRF":             StrategyRRF,
		"reciprocal_rank": StrategyRRF,
		" multiplicative": StrategyMultiplicative,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("bm25")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNewSearcher_NilBackend(t *testing.T) {
	_, err := NewSearcher(nil, staticSemantic())
	assert.ErrorIs(t, err, ErrNilDependency)
}
