package fusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// drawHits draws a best-first backend list with strictly decreasing scores
// over item IDs item-0..item-19.
func drawHits(rt *rapid.T, label string) []BackendHit {
	picks := rapid.SliceOfNDistinct(rapid.IntRange(0, 19), 0, 12, rapid.ID[int]).Draw(rt, label)
	score := rapid.Float64Range(10, 1000).Draw(rt, label+"_top")
	hits := make([]BackendHit, len(picks))
	for i, p := range picks {
		hits[i] = BackendHit{ItemID: fmt.Sprintf("item-%d", p), Rank: i + 1, RawScore: score}
		score -= rapid.Float64Range(0.5, 5).Draw(rt, fmt.Sprintf("%s_gap_%d", label, i))
	}
	return hits
}

func drawStrategy(rt *rapid.T) Strategy {
	return rapid.SampledFrom([]Strategy{StrategyLinear, StrategyRRF, StrategyMultiplicative}).Draw(rt, "strategy")
}

func TestProperty_SortedAndFoundByBothFromRanks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lex := drawHits(rt, "lex")
		sem := drawHits(rt, "sem")
		q := SearchQuery{
			Strategy:       drawStrategy(rt),
			LexicalWeight:  rapid.Float64Range(0, 2).Draw(rt, "lw"),
			SemanticWeight: rapid.Float64Range(0, 2).Draw(rt, "sw"),
			BothFoundBoost: rapid.Float64Range(1, 3).Draw(rt, "boost"),
			MaxResults:     rapid.IntRange(1, 30).Draw(rt, "max"),
		}

		hits := NewEngine().Fuse(lex, sem, q)

		assert.LessOrEqual(rt, len(hits), q.MaxResults)
		lexIDs, semIDs := make(map[string]bool), make(map[string]bool)
		for _, h := range lex {
			lexIDs[h.ItemID] = true
		}
		for _, h := range sem {
			semIDs[h.ItemID] = true
		}
		for i, h := range hits {
			if i > 0 {
				assert.GreaterOrEqual(rt, hits[i-1].Score, h.Score, "hits must be sorted by score")
			}
			assert.Equal(rt, lexIDs[h.ItemID], h.LexicalRank > 0)
			assert.Equal(rt, semIDs[h.ItemID], h.SemanticRank > 0)
			assert.Equal(rt, lexIDs[h.ItemID] && semIDs[h.ItemID], h.FoundByBoth())
		}
	})
}

func TestProperty_RRFLexicalOnlyScore(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lex := drawHits(rt, "lex")
		sem := drawHits(rt, "sem")
		q := SearchQuery{
			Strategy:       StrategyRRF,
			LexicalWeight:  rapid.Float64Range(0, 5).Draw(rt, "lw"),
			SemanticWeight: rapid.Float64Range(0, 5).Draw(rt, "sw"),
			BothFoundBoost: 1.2,
		}

		for _, h := range NewEngine().Fuse(lex, sem, q) {
			if h.LexicalRank > 0 && h.SemanticRank == 0 {
				assert.InDelta(rt, 1.0/float64(60+h.LexicalRank), h.Score, 1e-12)
			}
		}
	})
}

func TestProperty_LinearSingleWeightKeepsBackendOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lex := drawHits(rt, "lex")
		sem := drawHits(rt, "sem")
		e := NewEngine()

		check := func(hits []FusedHit, want []BackendHit, rank func(FusedHit) int) {
			var got []string
			for _, h := range hits {
				if rank(h) > 0 {
					got = append(got, h.ItemID)
				}
			}
			expected := make([]string, 0, len(want))
			for _, h := range want {
				expected = append(expected, h.ItemID)
			}
			require.Equal(rt, expected, append([]string{}, got...))
		}

		lexFirst := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 1, SemanticWeight: 0, BothFoundBoost: 1})
		check(lexFirst, lex, func(h FusedHit) int { return h.LexicalRank })

		semFirst := e.Fuse(lex, sem, SearchQuery{Strategy: StrategyLinear, LexicalWeight: 0, SemanticWeight: 1, BothFoundBoost: 1})
		check(semFirst, sem, func(h FusedHit) int { return h.SemanticRank })
	})
}

func TestProperty_BoostMultipliesBothFoundExactly(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lex := drawHits(rt, "lex")
		sem := drawHits(rt, "sem")
		s := drawStrategy(rt)
		e := NewEngine()

		base := byID(e.Fuse(lex, sem, SearchQuery{Strategy: s, LexicalWeight: 0.4, SemanticWeight: 0.6, BothFoundBoost: 1}))
		boosted := e.Fuse(lex, sem, SearchQuery{Strategy: s, LexicalWeight: 0.4, SemanticWeight: 0.6, BothFoundBoost: 1.2})

		for _, h := range boosted {
			if h.FoundByBoth() {
				assert.InDelta(rt, base[h.ItemID].Score*1.2, h.Score, 1e-12)
			}
		}
	})
}
