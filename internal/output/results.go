package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/pkg/searcher"
)

// Format selects how search results are printed.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (valid: text, json)", s)
	}
}

// SearchReport is the JSON document printed by `search --format json`.
type SearchReport struct {
	Query           string      `json:"query"`
	Strategy        string      `json:"strategy"`
	Results         []ResultRow `json:"results"`
	LexicalCount    int         `json:"lexical_count"`
	SemanticCount   int         `json:"semantic_count"`
	BothFoundCount  int         `json:"both_found_count"`
	Degraded        bool        `json:"degraded"`
	LexicalFailure  string      `json:"lexical_failure,omitempty"`
	SemanticFailure string      `json:"semantic_failure,omitempty"`
	ElapsedMs       int64       `json:"elapsed_ms"`
}

// ResultRow is one result in a SearchReport.
type ResultRow struct {
	Rank         int     `json:"rank"`
	Path         string  `json:"path"`
	Language     string  `json:"language,omitempty"`
	Kind         string  `json:"kind,omitempty"`
	Score        float64 `json:"score"`
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	SemanticRank int     `json:"semantic_rank,omitempty"`
	InBothLists  bool    `json:"in_both_lists"`
	MatchReason  string  `json:"match_reason"`
	Snippet      string  `json:"snippet,omitempty"`
}

// NewSearchReport flattens a fusion result and its resolved hits.
func NewSearchReport(query string, res *fusion.FusionResult, hits []searcher.ResolvedHit) SearchReport {
	rep := SearchReport{
		Query:           query,
		Strategy:        string(res.Strategy),
		Results:         make([]ResultRow, 0, len(hits)),
		LexicalCount:    res.LexicalCount,
		SemanticCount:   res.SemanticCount,
		BothFoundCount:  res.BothFoundCount,
		Degraded:        res.Degraded,
		LexicalFailure:  string(res.LexicalFailure),
		SemanticFailure: string(res.SemanticFailure),
		ElapsedMs:       res.Elapsed.Milliseconds(),
	}
	for i, h := range hits {
		rep.Results = append(rep.Results, ResultRow{
			Rank:         i + 1,
			Path:         h.Item.Path,
			Language:     h.Item.Language,
			Kind:         string(h.Item.Kind),
			Score:        h.Score,
			LexicalRank:  h.LexicalRank,
			SemanticRank: h.SemanticRank,
			InBothLists:  h.FoundByBoth(),
			MatchReason:  searcher.MatchReason(h.FusedHit),
			Snippet:      h.Snippet,
		})
	}
	return rep
}

// WriteJSON prints rep as indented JSON.
func WriteJSON(out io.Writer, rep SearchReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// SearchResults prints rep for humans.
func (w *Writer) SearchResults(rep SearchReport) {
	if rep.Degraded {
		w.Warning(degradedNote(rep))
	}
	if len(rep.Results) == 0 {
		w.Statusf("", "No results for %q", rep.Query)
		return
	}

	w.Header(fmt.Sprintf("%d results for %q", len(rep.Results), rep.Query))
	_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render(fmt.Sprintf(
		"strategy %s · keyword %d · semantic %d · both %d · %dms",
		rep.Strategy, rep.LexicalCount, rep.SemanticCount, rep.BothFoundCount, rep.ElapsedMs)))

	for _, r := range rep.Results {
		w.Newline()
		line := fmt.Sprintf("%2d. %s  %s", r.Rank, w.styles.Path.Render(r.Path),
			w.styles.Score.Render(fmt.Sprintf("%.4f", r.Score)))
		if r.InBothLists {
			line += " " + w.styles.Both.Render("[both]")
		}
		_, _ = fmt.Fprintln(w.out, line)
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Label.Render(r.MatchReason))
		if r.Snippet != "" {
			_, _ = fmt.Fprintln(w.out, indent(w.styles.Snippet.Render(r.Snippet), "    "))
		}
	}
}

func degradedNote(rep SearchReport) string {
	switch {
	case rep.LexicalFailure != "":
		return fmt.Sprintf("keyword search failed (%s); showing semantic results only", rep.LexicalFailure)
	case rep.SemanticFailure != "":
		return fmt.Sprintf("semantic search failed (%s); showing keyword results only", rep.SemanticFailure)
	default:
		return "one search backend failed; results are partial"
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
