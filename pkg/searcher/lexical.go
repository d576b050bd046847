package searcher

import (
	"context"
	"errors"

	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

// ErrNilLexicalIndex is returned when a LexicalSearcher has no index.
var ErrNilLexicalIndex = errors.New("lexical index is required")

// LexicalSearcher runs keyword queries against a lexical index.
type LexicalSearcher struct {
	index store.LexicalIndex
}

// NewLexicalSearcher wraps idx.
func NewLexicalSearcher(idx store.LexicalIndex) (*LexicalSearcher, error) {
	if idx == nil {
		return nil, ErrNilLexicalIndex
	}
	return &LexicalSearcher{index: idx}, nil
}

// SearchLexical returns up to limit hits ranked by the index's relevance
// score. Query syntax errors surface as ERR_403_INVALID_QUERY.
func (s *LexicalSearcher) SearchLexical(ctx context.Context, text string, filters map[string]string, limit int) ([]fusion.BackendHit, error) {
	matches, err := s.index.Search(ctx, text, filters, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]fusion.BackendHit, len(matches))
	for i, m := range matches {
		hits[i] = fusion.BackendHit{ItemID: m.ID, Rank: i + 1, RawScore: m.Score}
	}
	return hits, nil
}

var _ fusion.LexicalBackend = (*LexicalSearcher)(nil)
