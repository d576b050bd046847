package searcher

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

const (
	// DefaultSnippetLines is the snippet height used by Resolve.
	DefaultSnippetLines = 6
	maxSnippetRunes     = 600
)

// ResolvedHit is a fused hit with its item payload loaded.
type ResolvedHit struct {
	fusion.FusedHit
	Item    *store.Item
	Snippet string
}

// Resolve loads the items behind hits, keeping the fused order. Hits whose
// item has been removed since the search are dropped.
func Resolve(ctx context.Context, items store.ItemStore, query string, hits []fusion.FusedHit) ([]ResolvedHit, error) {
	if len(hits) == 0 {
		return []ResolvedHit{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ItemID
	}
	loaded, err := items.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load result items: %w", err)
	}
	byID := make(map[string]*store.Item, len(loaded))
	for _, it := range loaded {
		byID[it.ID] = it
	}

	out := make([]ResolvedHit, 0, len(hits))
	for _, h := range hits {
		it, ok := byID[h.ItemID]
		if !ok {
			continue
		}
		out = append(out, ResolvedHit{
			FusedHit: h,
			Item:     it,
			Snippet:  Snippet(it.Content, query, DefaultSnippetLines),
		})
	}
	return out, nil
}

// MatchReason explains which backends returned h and where.
func MatchReason(h fusion.FusedHit) string {
	switch {
	case h.FoundByBoth():
		return fmt.Sprintf("keyword and semantic match (keyword #%d, semantic #%d)", h.LexicalRank, h.SemanticRank)
	case h.LexicalRank > 0:
		return fmt.Sprintf("keyword match (#%d)", h.LexicalRank)
	case h.SemanticRank > 0:
		return fmt.Sprintf("semantic match (#%d, similarity %.2f)", h.SemanticRank, h.SemanticScore)
	default:
		return "unranked"
	}
}

// Snippet returns up to maxLines lines of content around the first line that
// mentions a query token, or the head of content when none does.
func Snippet(content, query string, maxLines int) string {
	if content == "" || maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	start := 0
	if i := firstMatchingLine(lines, store.TokenizeCode(query)); i > 0 {
		start = i - 1
	}
	end := min(start+maxLines, len(lines))

	for i := start; i < end; i++ {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	s := strings.Trim(strings.Join(lines[start:end], "\n"), "\n")
	if utf8.RuneCountInString(s) > maxSnippetRunes {
		s = string([]rune(s)[:maxSnippetRunes]) + "..."
	}
	return s
}

func firstMatchingLine(lines, tokens []string) int {
	if len(tokens) == 0 {
		return -1
	}
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				return i
			}
		}
	}
	return -1
}
