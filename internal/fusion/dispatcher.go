package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dispatcher runs the lexical and semantic searches for one query concurrently.
type Dispatcher struct {
	lexical         LexicalBackend
	semantic        SemanticBackend
	expansionFactor int
	logger          *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithExpansionFactor sets how many times MaxResults each backend is asked
// for. Values below 2 are raised to 2.
func WithExpansionFactor(f int) DispatcherOption {
	return func(d *Dispatcher) {
		d.expansionFactor = max(f, DefaultExpansionFactor)
	}
}

// WithDispatcherLogger sets the logger for degradation warnings.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher returns a Dispatcher over the two backends.
func NewDispatcher(lexical LexicalBackend, semantic SemanticBackend, opts ...DispatcherOption) (*Dispatcher, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical backend", ErrNilDependency)
	}
	if semantic == nil {
		return nil, fmt.Errorf("%w: semantic backend", ErrNilDependency)
	}
	d := &Dispatcher{
		lexical:         lexical,
		semantic:        semantic,
		expansionFactor: DefaultExpansionFactor,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MaxBackendLimit caps how many hits one backend is asked for, however
// large MaxResults or the expansion factor are.
const MaxBackendLimit = 10000

// backendLimit is maxResults times the expansion factor, saturating at
// MaxBackendLimit.
func (d *Dispatcher) backendLimit(maxResults int) int {
	if maxResults <= 0 {
		return 0
	}
	if maxResults > MaxBackendLimit/d.expansionFactor {
		return MaxBackendLimit
	}
	return maxResults * d.expansionFactor
}

// ExpansionFactor returns the per-backend over-fetch multiplier.
func (d *Dispatcher) ExpansionFactor() int { return d.expansionFactor }

// Dispatch issues both searches and waits for both outcomes.
//
// A failure on one side is reported in that side's outcome and the error is
// nil. When both sides fail the error is a *DispatchError. When ctx ends
// before both calls return, the context error is returned and the outcomes
// must be ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, q SearchQuery) (lexical, semantic BackendOutcome, err error) {
	limit := d.backendLimit(q.MaxResults)

	// Goroutines never return an error so that one backend's failure does
	// not cancel the other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical = d.call(gctx, BackendLexical, q.Timeout, func(ctx context.Context) ([]BackendHit, error) {
			return d.lexical.SearchLexical(ctx, q.Text, q.LexicalFilters, limit)
		})
		return nil
	})
	g.Go(func() error {
		semantic = d.call(gctx, BackendSemantic, q.Timeout, func(ctx context.Context) ([]BackendHit, error) {
			return d.semantic.SearchSemantic(ctx, q.Text, q.SemanticFilters, limit, q.SemanticThreshold)
		})
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return BackendOutcome{}, BackendOutcome{}, fmt.Errorf("dispatch cancelled: %w", err)
	}

	if lexical.Failed() && semantic.Failed() {
		return lexical, semantic, &DispatchError{Lexical: lexical, Semantic: semantic}
	}
	for _, o := range []BackendOutcome{lexical, semantic} {
		if o.Failed() {
			d.logger.Warn("backend_degraded",
				slog.String("backend", o.Backend),
				slog.String("failure", string(o.Failure)),
				slog.Any("error", o.Err),
				slog.Duration("elapsed", o.Elapsed))
		}
	}
	return lexical, semantic, nil
}

// call runs one backend search under its own deadline and turns the result
// into an outcome.
func (d *Dispatcher) call(ctx context.Context, backend string, timeout time.Duration, fn func(context.Context) ([]BackendHit, error)) (out BackendOutcome) {
	out.Backend = backend
	start := time.Now()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		out.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			out.Hits = nil
			out.Failure = FailureUnknown
			out.Err = fmt.Errorf("%s backend panicked: %v", backend, r)
		}
	}()

	hits, err := fn(callCtx)
	if err == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// Results that arrive after the deadline do not count.
		err = fmt.Errorf("%s backend exceeded %s: %w", backend, timeout, context.DeadlineExceeded)
	}
	if err != nil {
		out.Failure = Classify(err)
		out.Err = err
		return out
	}
	out.Hits = sanitize(hits)
	return out
}

// sanitize drops hits without an ID, keeps the best-ranked copy of a
// duplicated ID, and fills missing ranks from list position.
func sanitize(hits []BackendHit) []BackendHit {
	out := make([]BackendHit, 0, len(hits))
	seen := make(map[string]int, len(hits))
	for i, h := range hits {
		if h.ItemID == "" {
			continue
		}
		h.Rank = rankOf(h, i)
		if j, ok := seen[h.ItemID]; ok {
			if h.Rank < out[j].Rank {
				out[j] = h
			}
			continue
		}
		seen[h.ItemID] = len(out)
		out = append(out, h)
	}
	return out
}
