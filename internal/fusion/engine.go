package fusion

import (
	"sort"
)

// Engine combines two backend lists into one ranking.
type Engine struct {
	rrfK int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRRFConstant sets the RRF damping constant k. Values <= 0 keep the default.
func WithRRFConstant(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.rrfK = k
		}
	}
}

// NewEngine returns an Engine with k = 60.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{rrfK: DefaultRRFConstant}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RRFConstant returns the engine's k.
func (e *Engine) RRFConstant() int { return e.rrfK }

// candidate carries a hit plus the per-backend scores used for ordering.
type candidate struct {
	FusedHit
	lexNorm float64
	semNorm float64
	// best is the higher of the two individual scores under the active
	// strategy, used as the second tie-breaker.
	best float64
}

// Fuse merges lexical and semantic hits under q.Strategy, applies the
// both-found boost, sorts, and truncates to q.MaxResults. Either list may be
// empty. The returned slice is never nil.
func (e *Engine) Fuse(lexical, semantic []BackendHit, q SearchQuery) []FusedHit {
	if len(lexical) == 0 && len(semantic) == 0 {
		return []FusedHit{}
	}

	byID := make(map[string]*candidate, len(lexical)+len(semantic))
	get := func(id string) *candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &candidate{FusedHit: FusedHit{ItemID: id}}
		byID[id] = c
		return c
	}

	var lexNorm, semNorm map[string]float64
	if q.Strategy != StrategyRRF {
		lexNorm = NormalizeScores(lexical)
		semNorm = NormalizeScores(semantic)
	}

	for i, h := range lexical {
		c := get(h.ItemID)
		c.LexicalRank = rankOf(h, i)
		c.LexicalScore = h.RawScore
		c.lexNorm = lexNorm[h.ItemID]
	}
	for i, h := range semantic {
		c := get(h.ItemID)
		c.SemanticRank = rankOf(h, i)
		c.SemanticScore = h.RawScore
		c.semNorm = semNorm[h.ItemID]
	}

	boost := q.BothFoundBoost
	if boost <= 0 {
		boost = 1
	}

	out := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		e.score(c, q)
		if c.FoundByBoth() {
			c.Score *= boost
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return less(out[i], out[j])
	})

	n := len(out)
	if q.MaxResults > 0 && n > q.MaxResults {
		n = q.MaxResults
	}
	hits := make([]FusedHit, n)
	for i := 0; i < n; i++ {
		hits[i] = out[i].FusedHit
	}
	return hits
}

// score applies the strategy formula, before any boost.
func (e *Engine) score(c *candidate, q SearchQuery) {
	switch q.Strategy {
	case StrategyRRF:
		lex := rrfTerm(e.rrfK, c.LexicalRank)
		sem := rrfTerm(e.rrfK, c.SemanticRank)
		c.Score = lex + sem
		c.best = max(lex, sem)

	case StrategyMultiplicative:
		switch {
		case c.FoundByBoth():
			c.Score = c.lexNorm * c.semNorm
		case c.LexicalRank > 0:
			c.Score = c.lexNorm * singleSourceFactor
		default:
			c.Score = c.semNorm * singleSourceFactor
		}
		c.best = max(c.lexNorm, c.semNorm)

	default:
		c.Score = q.LexicalWeight*c.lexNorm + q.SemanticWeight*c.semNorm
		c.best = max(c.lexNorm, c.semNorm)
	}
}

// less orders a before b: higher score, then found by both, then the higher
// individual score, then the better lexical rank (present before absent),
// then item ID.
func less(a, b *candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ab, bb := a.FoundByBoth(), b.FoundByBoth(); ab != bb {
		return ab
	}
	if a.best != b.best {
		return a.best > b.best
	}
	if a.LexicalRank != b.LexicalRank {
		if a.LexicalRank == 0 || b.LexicalRank == 0 {
			return a.LexicalRank != 0
		}
		return a.LexicalRank < b.LexicalRank
	}
	return a.ItemID < b.ItemID
}

// rankOf trusts the backend's rank when set and falls back to list position.
func rankOf(h BackendHit, idx int) int {
	if h.Rank > 0 {
		return h.Rank
	}
	return idx + 1
}
