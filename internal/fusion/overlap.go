package fusion

// Overlap counts how the fused list splits across backends.
type Overlap struct {
	LexicalCount   int
	SemanticCount  int
	BothFoundCount int
}

// LexicalOnly is the number of hits only the lexical backend returned.
func (o Overlap) LexicalOnly() int { return o.LexicalCount - o.BothFoundCount }

// SemanticOnly is the number of hits only the semantic backend returned.
func (o Overlap) SemanticOnly() int { return o.SemanticCount - o.BothFoundCount }

// Ratio is the share of hits found by both backends, 0 for an empty list.
func (o Overlap) Ratio(total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(o.BothFoundCount) / float64(total)
}

// AnalyzeOverlap counts hits by the backends that returned them.
func AnalyzeOverlap(hits []FusedHit) Overlap {
	var o Overlap
	for _, h := range hits {
		if h.LexicalRank > 0 {
			o.LexicalCount++
		}
		if h.SemanticRank > 0 {
			o.SemanticCount++
		}
		if h.FoundByBoth() {
			o.BothFoundCount++
		}
	}
	return o
}
