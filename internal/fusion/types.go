// Package fusion merges a lexical and a semantic result list into one ranking.
//
// A query fans out to both backends concurrently (Dispatcher), each side's
// scores are normalized independently (NormalizeScores), the two lists are
// outer-joined and scored under one of three strategies (Engine), and the
// fused list is annotated with overlap counts (AnalyzeOverlap). Searcher ties
// the steps together behind FuseSearch.
package fusion

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Strategy selects how two backend lists are combined.
type Strategy string

const (
	// StrategyLinear is a weighted sum of min-max normalized scores.
	StrategyLinear Strategy = "linear"
	// StrategyRRF is Reciprocal Rank Fusion. Query weights are not applied.
	StrategyRRF Strategy = "rrf"
	// StrategyMultiplicative multiplies normalized scores and halves
	// single-source hits.
	StrategyMultiplicative Strategy = "multiplicative"
)

// Default parameters.
const (
	DefaultRRFConstant     = 60
	DefaultBothFoundBoost  = 1.2
	DefaultExpansionFactor = 2
	DefaultMaxResults      = 10
	DefaultTimeout         = 5 * time.Second

	// singleSourceFactor scales Multiplicative scores for items only one
	// backend returned.
	singleSourceFactor = 0.5
)

// ParseStrategy accepts the canonical names plus a few aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "weighted":
		return StrategyLinear, nil
	case "rrf", "reciprocal_rank", "reciprocalrank":
		return StrategyRRF, nil
	case "multiplicative", "product":
		return StrategyMultiplicative, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidQuery, s)
	}
}

// Valid reports whether s is one of the three strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLinear, StrategyRRF, StrategyMultiplicative:
		return true
	}
	return false
}

// SearchQuery is one hybrid search request.
type SearchQuery struct {
	Text string

	// Filters are passed through untouched; their keys mean whatever the
	// receiving backend says they mean.
	LexicalFilters  map[string]string
	SemanticFilters map[string]string

	MaxResults int

	// Weights are used as supplied and need not sum to 1.
	LexicalWeight  float64
	SemanticWeight float64

	Strategy Strategy

	// SemanticThreshold is the minimum similarity the semantic backend may return.
	SemanticThreshold float64

	// BothFoundBoost multiplies the score of items both backends returned.
	BothFoundBoost float64

	// Timeout bounds each backend call independently.
	Timeout time.Duration
}

// BackendHit is one entry of a backend's ranked list.
type BackendHit struct {
	ItemID   string
	Rank     int // 1-based, 1 is best
	RawScore float64
}

// Backend names used in outcomes, logs and metrics.
const (
	BackendLexical  = "lexical"
	BackendSemantic = "semantic"
)

// BackendOutcome is the result of one backend call: hits, or a failure.
type BackendOutcome struct {
	Backend string
	Hits    []BackendHit
	Failure FailureClass
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the call was classified as a failure.
func (o BackendOutcome) Failed() bool {
	return o.Failure != FailureNone
}

// FusedHit is one entry of the merged ranking.
type FusedHit struct {
	ItemID        string  `json:"item_id"`
	Score         float64 `json:"score"`
	LexicalRank   int     `json:"lexical_rank,omitempty"`
	LexicalScore  float64 `json:"lexical_score,omitempty"`
	SemanticRank  int     `json:"semantic_rank,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// FoundByBoth reports whether both backends returned the item.
func (h FusedHit) FoundByBoth() bool {
	return h.LexicalRank > 0 && h.SemanticRank > 0
}

// FusionResult is the complete answer to one SearchQuery.
type FusionResult struct {
	Hits           []FusedHit
	LexicalCount   int
	SemanticCount  int
	BothFoundCount int
	Strategy       Strategy

	// Degraded is set when one backend failed and the other carried the query.
	Degraded        bool
	LexicalFailure  FailureClass
	SemanticFailure FailureClass

	Elapsed time.Duration
}

// LexicalBackend is an inverted-index keyword search.
// Results must be ordered best first.
type LexicalBackend interface {
	SearchLexical(ctx context.Context, text string, filters map[string]string, limit int) ([]BackendHit, error)
}

// SemanticBackend is a vector-similarity search. Results must be ordered
// best first and never include a similarity below minSimilarity.
type SemanticBackend interface {
	SearchSemantic(ctx context.Context, text string, filters map[string]string, limit int, minSimilarity float64) ([]BackendHit, error)
}

// LexicalFunc adapts a function to LexicalBackend.
type LexicalFunc func(ctx context.Context, text string, filters map[string]string, limit int) ([]BackendHit, error)

func (f LexicalFunc) SearchLexical(ctx context.Context, text string, filters map[string]string, limit int) ([]BackendHit, error) {
	return f(ctx, text, filters, limit)
}

// SemanticFunc adapts a function to SemanticBackend.
type SemanticFunc func(ctx context.Context, text string, filters map[string]string, limit int, minSimilarity float64) ([]BackendHit, error)

func (f SemanticFunc) SearchSemantic(ctx context.Context, text string, filters map[string]string, limit int, minSimilarity float64) ([]BackendHit, error) {
	return f(ctx, text, filters, limit, minSimilarity)
}
