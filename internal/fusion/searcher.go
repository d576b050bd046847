package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

// Defaults fill in zero-valued SearchQuery fields.
type Defaults struct {
	Strategy          Strategy
	LexicalWeight     float64
	SemanticWeight    float64
	SemanticThreshold float64
	BothFoundBoost    float64
	MaxResults        int
	// MaxResultsLimit caps MaxResults. Zero means no cap.
	MaxResultsLimit int
	Timeout         time.Duration
}

// DefaultQueryDefaults returns the built-in defaults.
func DefaultQueryDefaults() Defaults {
	return Defaults{
		Strategy:        StrategyRRF,
		LexicalWeight:   0.35,
		SemanticWeight:  0.65,
		BothFoundBoost:  DefaultBothFoundBoost,
		MaxResults:      DefaultMaxResults,
		MaxResultsLimit: 100,
		Timeout:         DefaultTimeout,
	}
}

// SearchRecord summarises one FuseSearch call for observers.
type SearchRecord struct {
	RequestID       string
	Query           string
	Strategy        Strategy
	Hits            int
	LexicalCount    int
	SemanticCount   int
	BothFoundCount  int
	Degraded        bool
	LexicalFailure  FailureClass
	SemanticFailure FailureClass
	Elapsed         time.Duration
	Err             error
}

// Observer is notified after every FuseSearch call, successful or not.
type Observer interface {
	ObserveSearch(rec SearchRecord)
}

// Searcher is the hybrid search entry point.
type Searcher struct {
	dispatcher *Dispatcher
	engine     *Engine
	defaults   Defaults
	logger     *slog.Logger
	observer   Observer

	engineOpts     []EngineOption
	dispatcherOpts []DispatcherOption
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithDefaults replaces the built-in query defaults.
func WithDefaults(d Defaults) Option {
	return func(s *Searcher) { s.defaults = d }
}

// WithLogger sets the logger for the searcher and its dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Searcher) { s.observer = o }
}

// WithEngineOptions passes options through to the fusion engine.
func WithEngineOptions(opts ...EngineOption) Option {
	return func(s *Searcher) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithDispatcherOptions passes options through to the dispatcher.
func WithDispatcherOptions(opts ...DispatcherOption) Option {
	return func(s *Searcher) { s.dispatcherOpts = append(s.dispatcherOpts, opts...) }
}

// NewSearcher wires a dispatcher and an engine over the two backends.
func NewSearcher(lexical LexicalBackend, semantic SemanticBackend, opts ...Option) (*Searcher, error) {
	s := &Searcher{
		defaults: DefaultQueryDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	dopts := append([]DispatcherOption{WithDispatcherLogger(s.logger)}, s.dispatcherOpts...)
	d, err := NewDispatcher(lexical, semantic, dopts...)
	if err != nil {
		return nil, err
	}
	s.dispatcher = d
	s.engine = NewEngine(s.engineOpts...)
	return s, nil
}

// Defaults returns the defaults applied to incoming queries.
func (s *Searcher) Defaults() Defaults { return s.defaults }

// FuseSearch runs q against both backends and returns the fused ranking.
//
// One failing backend produces a Degraded result. Both failing produces an
// AppError with code ErrCodeDispatchFailed wrapping a *DispatchError.
// Cancellation of ctx returns the context error and no result.
func (s *Searcher) FuseSearch(ctx context.Context, q SearchQuery) (*FusionResult, error) {
	start := time.Now()
	reqID := uuid.NewString()

	q, err := s.prepare(q)
	if err != nil {
		s.finish(reqID, q, nil, err, time.Since(start))
		return nil, err
	}

	lexOut, semOut, err := s.dispatcher.Dispatch(ctx, q)
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			err = apperrors.New(apperrors.ErrCodeDispatchFailed, "hybrid search failed", de).
				WithDetail("lexical", string(de.Lexical.Failure)).
				WithDetail("semantic", string(de.Semantic.Failure))
		}
		s.finish(reqID, q, nil, err, time.Since(start))
		return nil, err
	}

	hits := s.engine.Fuse(lexOut.Hits, semOut.Hits, q)
	overlap := AnalyzeOverlap(hits)

	result := &FusionResult{
		Hits:            hits,
		LexicalCount:    overlap.LexicalCount,
		SemanticCount:   overlap.SemanticCount,
		BothFoundCount:  overlap.BothFoundCount,
		Strategy:        q.Strategy,
		Degraded:        lexOut.Failed() || semOut.Failed(),
		LexicalFailure:  lexOut.Failure,
		SemanticFailure: semOut.Failure,
	}
	result.Elapsed = time.Since(start)

	s.finish(reqID, q, result, nil, result.Elapsed)
	return result, nil
}

// prepare validates q and fills defaults. The returned query is usable for
// logging even when err is non-nil.
func (s *Searcher) prepare(q SearchQuery) (SearchQuery, error) {
	d := s.defaults
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, ErrEmptyQuery
	}

	if q.Strategy == "" {
		q.Strategy = d.Strategy
	}
	if !q.Strategy.Valid() {
		return q, fmt.Errorf("%w: unknown strategy %q", ErrInvalidQuery, q.Strategy)
	}

	if q.MaxResults < 0 {
		return q, fmt.Errorf("%w: max results must not be negative", ErrInvalidQuery)
	}
	if q.MaxResults == 0 {
		q.MaxResults = d.MaxResults
	}
	if q.MaxResults <= 0 {
		return q, fmt.Errorf("%w: max results must be positive", ErrInvalidQuery)
	}
	if d.MaxResultsLimit > 0 && q.MaxResults > d.MaxResultsLimit {
		q.MaxResults = d.MaxResultsLimit
	}

	// Both weights zero means "not set"; one zero weight is a valid request.
	if q.LexicalWeight == 0 && q.SemanticWeight == 0 {
		q.LexicalWeight, q.SemanticWeight = d.LexicalWeight, d.SemanticWeight
	}
	if !validWeight(q.LexicalWeight) || !validWeight(q.SemanticWeight) {
		return q, fmt.Errorf("%w: weights must be finite and non-negative", ErrInvalidQuery)
	}

	if q.SemanticThreshold == 0 {
		q.SemanticThreshold = d.SemanticThreshold
	}
	if math.IsNaN(q.SemanticThreshold) || q.SemanticThreshold < 0 || q.SemanticThreshold > 1 {
		return q, fmt.Errorf("%w: semantic threshold must be in [0,1]", ErrInvalidQuery)
	}

	if q.BothFoundBoost == 0 {
		q.BothFoundBoost = d.BothFoundBoost
	}
	if q.BothFoundBoost == 0 {
		q.BothFoundBoost = DefaultBothFoundBoost
	}
	if math.IsNaN(q.BothFoundBoost) || math.IsInf(q.BothFoundBoost, 0) || q.BothFoundBoost < 1 {
		return q, fmt.Errorf("%w: both-found boost must be >= 1", ErrInvalidQuery)
	}

	if q.Timeout < 0 {
		return q, fmt.Errorf("%w: timeout must not be negative", ErrInvalidQuery)
	}
	if q.Timeout == 0 {
		q.Timeout = d.Timeout
	}
	return q, nil
}

func validWeight(w float64) bool {
	return w >= 0 && !math.IsInf(w, 0) && !math.IsNaN(w)
}

func (s *Searcher) finish(reqID string, q SearchQuery, r *FusionResult, err error, elapsed time.Duration) {
	rec := SearchRecord{
		RequestID: reqID,
		Query:     q.Text,
		Strategy:  q.Strategy,
		Elapsed:   elapsed,
		Err:       err,
	}
	if r != nil {
		rec.Hits = len(r.Hits)
		rec.LexicalCount = r.LexicalCount
		rec.SemanticCount = r.SemanticCount
		rec.BothFoundCount = r.BothFoundCount
		rec.Degraded = r.Degraded
		rec.LexicalFailure = r.LexicalFailure
		rec.SemanticFailure = r.SemanticFailure
	}
	var de *DispatchError
	if errors.As(err, &de) {
		rec.LexicalFailure = de.Lexical.Failure
		rec.SemanticFailure = de.Semantic.Failure
	}

	if err != nil {
		attrs := append([]any{
			slog.String("request_id", reqID),
			slog.String("strategy", string(q.Strategy)),
			slog.Duration("elapsed", elapsed),
		}, apperrors.LogAttrs(err)...)
		s.logger.Warn("fuse_search_failed", attrs...)
	} else {
		s.logger.Info("fuse_search",
			slog.String("request_id", reqID),
			slog.String("strategy", string(q.Strategy)),
			slog.Int("hits", rec.Hits),
			slog.Int("lexical", rec.LexicalCount),
			slog.Int("semantic", rec.SemanticCount),
			slog.Int("both", rec.BothFoundCount),
			slog.Bool("degraded", rec.Degraded),
			slog.Duration("elapsed", elapsed))
	}

	if s.observer != nil {
		s.observer.ObserveSearch(rec)
	}
}
