package fusion

import "math"

// NormalizeScores min-max normalizes one backend's raw scores into [0,1].
//
// A single hit, or a list whose scores are all equal, maps every hit to 1.0.
// Non-finite scores count as the list minimum.
func NormalizeScores(hits []BackendHit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, h := range hits {
		if !finite(h.RawScore) {
			continue
		}
		lo = math.Min(lo, h.RawScore)
		hi = math.Max(hi, h.RawScore)
	}

	span := hi - lo
	if math.IsInf(lo, 1) || span == 0 {
		for _, h := range hits {
			out[h.ItemID] = 1.0
		}
		return out
	}

	for _, h := range hits {
		if !finite(h.RawScore) {
			out[h.ItemID] = 0
			continue
		}
		out[h.ItemID] = (h.RawScore - lo) / span
	}
	return out
}

// rrfTerm is one backend's contribution to a Reciprocal Rank Fusion score.
func rrfTerm(k, rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1.0 / float64(k+rank)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
