package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioInputs: lexical [A@1 0.9, B@2 0.5], semantic [B@1 0.8, C@2 0.3].
func scenarioInputs() (lexical, semantic []BackendHit) {
	lexical = []BackendHit{
		{ItemID: "A", Rank: 1, RawScore: 0.9},
		{ItemID: "B", Rank: 2, RawScore: 0.5},
	}
	semantic = []BackendHit{
		{ItemID: "B", Rank: 1, RawScore: 0.8},
		{ItemID: "C", Rank: 2, RawScore: 0.3},
	}
	return lexical, semantic
}

func ids(hits []FusedHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ItemID
	}
	return out
}

func byID(hits []FusedHit) map[string]FusedHit {
	m := make(map[string]FusedHit, len(hits))
	for _, h := range hits {
		m[h.ItemID] = h
	}
	return m
}

func TestEngine_LinearScenario(t *testing.T) {
	// Given: the worked example with weights 0.6/0.4
	lex, sem := scenarioInputs()
	q := SearchQuery{Strategy: StrategyLinear, LexicalWeight: 0.6, SemanticWeight: 0.4, BothFoundBoost: 1.2, MaxResults: 10}

	// When: fusing
	hits := NewEngine().Fuse(lex, sem, q)

	// Then: A=0.6, B=0.48, C=0.0 in that order
	require.Equal(t, []string{"A", "B", "C"}, ids(hits))
	assert.InDelta(t, 0.6, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.48, hits[1].Score, 1e-9)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-9)

	b := hits[1]
	assert.True(t, b.FoundByBoth())
	assert.Equal(t, 2, b.LexicalRank)
	assert.InDelta(t, 0.5, b.LexicalScore, 1e-12)
	assert.Equal(t, 1, b.SemanticRank)
	assert.InDelta(t, 0.8, b.SemanticScore, 1e-12)

	c := hits[2]
	assert.False(t, c.FoundByBoth())
	assert.Equal(t, 0, c.LexicalRank)
	assert.Equal(t, 0.0, c.LexicalScore)
}

func TestEngine_RRFScenario(t *testing.T) {
	lex, sem := scenarioInputs()
	q := SearchQuery{Strategy: StrategyRRF, LexicalWeight: 0.6, SemanticWeight: 0.4, BothFoundBoost: 1.2, MaxResults: 10}

	hits := NewEngine().Fuse(lex, sem, q)

	require.Equal(t, []string{"B", "A", "C"}, ids(hits))
	got := byID(hits)
	assert.InDelta(t, 1.0/61, got["A"].Score, 1e-12)
	assert.InDelta(t, (1.0/62+1.0/61)*1.2, got["B"].Score, 1e-12)
	assert.InDelta(t, 1.0/62, got["C"].Score, 1e-12)
}

func TestEngine_RRFIgnoresWeights(t *testing.T) {
	lex, sem := scenarioInputs()
	e := NewEngine()

	a := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyRRF, LexicalWeight: 0.9, SemanticWeight: 0.1, BothFoundBoost: 1})
	b := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyRRF, LexicalWeight: 0, SemanticWeight: 5, BothFoundBoost: 1})

	assert.Equal(t, a, b)
}

func TestEngine_RRFCustomConstant(t *testing.T) {
	lex := []BackendHit{{ItemID: "x", Rank: 3, RawScore: 1}}
	hits := NewEngine(WithRRFConstant(10)).Fuse(lex, nil, SearchQuery{Strategy: StrategyRRF, BothFoundBoost: 1})
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0/13, hits[0].Score, 1e-12)

	assert.Equal(t, DefaultRRFConstant, NewEngine(WithRRFConstant(0)).RRFConstant())
}

func TestEngine_Multiplicative(t *testing.T) {
	// Given: lexical A,B,D and semantic B,C
	lex := []BackendHit{
		{ItemID: "A", Rank: 1, RawScore: 0.9},
		{ItemID: "B", Rank: 2, RawScore: 0.5},
		{ItemID: "D", Rank: 3, RawScore: 0.1},
	}
	sem := []BackendHit{
		{ItemID: "B", Rank: 1, RawScore: 0.8},
		{ItemID: "C", Rank: 2, RawScore: 0.3},
	}
	q := SearchQuery{Strategy: StrategyMultiplicative, BothFoundBoost: 1.2}

	hits := NewEngine().Fuse(lex, sem, q)

	// Then: B = 0.5*1.0*1.2, A = 1.0*0.5, and the zero-score tie goes to D
	// because it has a lexical rank
	require.Equal(t, []string{"B", "A", "D", "C"}, ids(hits))
	got := byID(hits)
	assert.InDelta(t, 0.6, got["B"].Score, 1e-9)
	assert.InDelta(t, 0.5, got["A"].Score, 1e-9)
	assert.InDelta(t, 0.0, got["D"].Score, 1e-9)
	assert.InDelta(t, 0.0, got["C"].Score, 1e-9)
}

func TestEngine_BoostIsExactUnderEveryStrategy(t *testing.T) {
	lex, sem := scenarioInputs()
	e := NewEngine()

	for _, s := range []Strategy{StrategyLinear, StrategyRRF, StrategyMultiplicative} {
		t.Run(string(s), func(t *testing.T) {
			base := byID(e.Fuse(lex, sem, SearchQuery{Strategy: s, LexicalWeight: 0.6, SemanticWeight: 0.4, BothFoundBoost: 1}))
			boosted := byID(e.Fuse(lex, sem, SearchQuery{Strategy: s, LexicalWeight: 0.6, SemanticWeight: 0.4, BothFoundBoost: 1.2}))

			for id, h := range boosted {
				if h.FoundByBoth() {
					assert.InDelta(t, base[id].Score*1.2, h.Score, 1e-12, id)
				} else {
					assert.InDelta(t, base[id].Score, h.Score, 1e-12, id)
				}
			}
		})
	}
}

func TestEngine_TieBreak(t *testing.T) {
	e := NewEngine()

	t.Run("found by both wins", func(t *testing.T) {
		// Q and P both normalize to 1.0 lexically; P is also semantic
		lex := []BackendHit{{ItemID: "Q", Rank: 1, RawScore: 10}, {ItemID: "P", Rank: 2, RawScore: 10}}
		sem := []BackendHit{{ItemID: "P", Rank: 1, RawScore: 0.5}}
		hits := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 1, SemanticWeight: 0, BothFoundBoost: 1})
		assert.Equal(t, []string{"P", "Q"}, ids(hits))
	})

	t.Run("higher individual score wins", func(t *testing.T) {
		// L: lexNorm 1 * 0.5 = 0.5, S: semNorm 0.5 * 1 = 0.5; L's best is 1.0
		lex := []BackendHit{{ItemID: "L", Rank: 1, RawScore: 9}, {ItemID: "z", Rank: 2, RawScore: 1}}
		sem := []BackendHit{{ItemID: "y", Rank: 1, RawScore: 3}, {ItemID: "S", Rank: 2, RawScore: 2}, {ItemID: "w", Rank: 3, RawScore: 1}}
		hits := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 0.5, SemanticWeight: 1, BothFoundBoost: 1})
		got := ids(hits)
		assert.Less(t, indexOf(got, "L"), indexOf(got, "S"))
	})

	t.Run("present lexical rank before absent", func(t *testing.T) {
		lex := []BackendHit{{ItemID: "b", Rank: 1, RawScore: 1}}
		sem := []BackendHit{{ItemID: "a", Rank: 1, RawScore: 1}}
		hits := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyRRF, BothFoundBoost: 1})
		assert.Equal(t, []string{"b", "a"}, ids(hits))
	})

	t.Run("better lexical rank", func(t *testing.T) {
		lex := []BackendHit{{ItemID: "y", Rank: 1, RawScore: 5}, {ItemID: "x", Rank: 2, RawScore: 5}}
		hits := e.Fuse(lex, nil, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 1, BothFoundBoost: 1})
		assert.Equal(t, []string{"y", "x"}, ids(hits))
	})

	t.Run("item id last", func(t *testing.T) {
		lex := []BackendHit{{ItemID: "z", Rank: 1, RawScore: 5}, {ItemID: "a", Rank: 1, RawScore: 5}}
		hits := e.Fuse(lex, nil, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 1, BothFoundBoost: 1})
		assert.Equal(t, []string{"a", "z"}, ids(hits))
	})
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestEngine_Truncates(t *testing.T) {
	lex := make([]BackendHit, 0, 20)
	for i := 0; i < 20; i++ {
		lex = append(lex, BackendHit{ItemID: string(rune('a' + i)), Rank: i + 1, RawScore: float64(100 - i)})
	}
	hits := NewEngine().Fuse(lex, nil, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 1, MaxResults: 5, BothFoundBoost: 1})
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(hits))
}

func TestEngine_EmptyInputs(t *testing.T) {
	hits := NewEngine().Fuse(nil, nil, SearchQuery{Strategy: StrategyLinear})
	require.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestEngine_MissingRankUsesPosition(t *testing.T) {
	lex := []BackendHit{{ItemID: "a", RawScore: 2}, {ItemID: "b", RawScore: 1}}
	hits := NewEngine().Fuse(lex, nil, SearchQuery{Strategy: StrategyRRF, BothFoundBoost: 1})
	got := byID(hits)
	assert.Equal(t, 1, got["a"].LexicalRank)
	assert.Equal(t, 2, got["b"].LexicalRank)
}

func TestAnalyzeOverlap(t *testing.T) {
	hits := []FusedHit{
		{ItemID: "a", LexicalRank: 1},
		{ItemID: "b", LexicalRank: 2, SemanticRank: 1},
		{ItemID: "c", SemanticRank: 2},
		{ItemID: "d", SemanticRank: 3},
	}
	o := AnalyzeOverlap(hits)
	assert.Equal(t, Overlap{LexicalCount: 2, SemanticCount: 3, BothFoundCount: 1}, o)
	assert.Equal(t, 1, o.LexicalOnly())
	assert.Equal(t, 2, o.SemanticOnly())
	assert.InDelta(t, 0.25, o.Ratio(len(hits)), 1e-12)
	assert.Equal(t, 0.0, AnalyzeOverlap(nil).Ratio(0))
}
