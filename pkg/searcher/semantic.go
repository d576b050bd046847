package searcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/fusesearch/internal/embed"
	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

var (
	// ErrNilEmbedder is returned when a SemanticSearcher has no embedder.
	ErrNilEmbedder = errors.New("embedder is required")
	// ErrNilVectorStore is returned when a SemanticSearcher has no vector store.
	ErrNilVectorStore = errors.New("vector store is required")
	// ErrNilItemStore is returned when a SemanticSearcher has no item store.
	ErrNilItemStore = errors.New("item store is required")
)

// filterOverfetch multiplies k when filters will discard neighbours.
const filterOverfetch = 4

// SemanticSearcher embeds queries and searches a vector store.
type SemanticSearcher struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	items    store.ItemStore
	breaker  *apperrors.CircuitBreaker
	retry    apperrors.RetryConfig
	logger   *slog.Logger
}

// SemanticOption configures a SemanticSearcher.
type SemanticOption func(*SemanticSearcher)

// WithRetryConfig sets the backoff used for retryable embedding failures.
func WithRetryConfig(cfg apperrors.RetryConfig) SemanticOption {
	return func(s *SemanticSearcher) { s.retry = cfg }
}

// WithCircuitBreaker replaces the default embedder circuit breaker.
func WithCircuitBreaker(cb *apperrors.CircuitBreaker) SemanticOption {
	return func(s *SemanticSearcher) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// WithSemanticLogger sets the logger.
func WithSemanticLogger(l *slog.Logger) SemanticOption {
	return func(s *SemanticSearcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSemanticSearcher wires an embedder, the vector store and the item store
// used to evaluate filters.
func NewSemanticSearcher(e embed.Embedder, vectors store.VectorStore, items store.ItemStore, opts ...SemanticOption) (*SemanticSearcher, error) {
	switch {
	case e == nil:
		return nil, ErrNilEmbedder
	case vectors == nil:
		return nil, ErrNilVectorStore
	case items == nil:
		return nil, ErrNilItemStore
	}
	s := &SemanticSearcher{
		embedder: e,
		vectors:  vectors,
		items:    items,
		breaker:  apperrors.NewCircuitBreaker("embedder"),
		retry:    apperrors.DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SearchSemantic returns up to limit items whose similarity to text is at
// least minSimilarity, closest first.
func (s *SemanticSearcher) SearchSemantic(ctx context.Context, text string, filters map[string]string, limit int, minSimilarity float64) ([]fusion.BackendHit, error) {
	if err := store.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if text == "" || limit <= 0 {
		return []fusion.BackendHit{}, nil
	}

	vec, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	k := limit
	if len(filters) > 0 {
		k = limit * filterOverfetch
	}
	results, err := s.vectors.Search(ctx, vec, k)
	if err != nil {
		if errors.Is(err, store.ErrClosed) {
			return nil, apperrors.Unavailable("vector store is closed", err)
		}
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return nil, apperrors.New(apperrors.ErrCodeDimensionMismatch, dm.Error(), err)
		}
		return nil, err
	}

	var allowed map[string]bool
	if len(filters) > 0 && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		if allowed, err = s.items.FilterIDs(ctx, ids, filters); err != nil {
			return nil, err
		}
	}

	// Ranks follow similarity whatever order the store returned.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	hits := make([]fusion.BackendHit, 0, min(limit, len(results)))
	for _, r := range results {
		if float64(r.Score) < minSimilarity {
			continue
		}
		if allowed != nil && !allowed[r.ID] {
			continue
		}
		hits = append(hits, fusion.BackendHit{ItemID: r.ID, Rank: len(hits) + 1, RawScore: float64(r.Score)})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// embedQuery embeds text through the circuit breaker, retrying retryable
// failures.
func (s *SemanticSearcher) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := apperrors.CircuitCall(s.breaker, func() ([]float32, error) {
		return apperrors.RetryWithResult(ctx, s.retry, func() ([]float32, error) {
			v, err := s.embedder.Embed(ctx, text)
			if err != nil && ctx.Err() == nil {
				return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "embed query", err)
			}
			return v, err
		})
	})
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		s.logger.Warn("embedder_circuit_open", slog.String("breaker", s.breaker.Name()))
		return nil, apperrors.Unavailable("embedder is unavailable", err).
			WithSuggestion("the embedder failed repeatedly; lexical results are still served")
	}
	return vec, err
}

// BreakerState reports the embedder circuit breaker state.
func (s *SemanticSearcher) BreakerState() apperrors.State { return s.breaker.State() }

var _ fusion.SemanticBackend = (*SemanticSearcher)(nil)
