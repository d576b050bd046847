package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

const (
	codeTokenizerName  = "fusesearch_code_tokenizer"
	codeStopFilterName = "fusesearch_code_stop"
	codeAnalyzerName   = "fusesearch_code"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return codeTokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(codeStopFilterName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return stopFilter{stop: StopWordSet(DefaultStopWords)}, nil
	})
}

// BleveIndex is a LexicalIndex backed by Bleve. Queries use Bleve's query
// string syntax: +required -excluded "exact phrase" field:value.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDoc is the indexed shape of an Item.
type bleveDoc struct {
	Content  string `json:"content"`
	Title    string `json:"title"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Kind     string `json:"kind"`
}

// NewBleveIndex opens or creates an index at path. An empty path creates an
// in-memory index. A corrupt on-disk index is removed and recreated empty.
func NewBleveIndex(path string) (*BleveIndex, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		idx, err = bleve.Open(path)
		switch {
		case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
			idx, err = bleve.New(path, m)
		case err != nil:
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "lexical index is corrupt and cannot be removed", rmErr)
			}
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return &BleveIndex{index: idx, path: path}, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name, codeStopFilterName},
	})
	if err != nil {
		return nil, err
	}
	m.DefaultAnalyzer = codeAnalyzerName

	text := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = codeAnalyzerName
		f.IncludeTermVectors = true
		return f
	}
	exact := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.IncludeInAll = false
		return f
	}

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", text())
	doc.AddFieldMappingsAt("title", text())
	doc.AddFieldMappingsAt("path", exact())
	doc.AddFieldMappingsAt("language", exact())
	doc.AddFieldMappingsAt("kind", exact())
	m.DefaultMapping = doc
	return m, nil
}

func (b *BleveIndex) Index(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, it := range items {
		doc := bleveDoc{
			Content:  it.Content,
			Title:    it.Title,
			Path:     it.Path,
			Language: strings.ToLower(it.Language),
			Kind:     strings.ToLower(string(it.Kind)),
		}
		if err := batch.Index(it.ID, doc); err != nil {
			return fmt.Errorf("index item %s: %w", it.Path, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

func (b *BleveIndex) Search(ctx context.Context, text string, filters map[string]string, limit int) ([]*LexicalMatch, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return []*LexicalMatch{}, nil
	}

	parsed, err := bleve.NewQueryStringQuery(text).Parse()
	if err != nil {
		return nil, apperrors.InvalidQuery("cannot parse lexical query", err).
			WithSuggestion(`quote phrases with "..." and balance +/- operators`)
	}

	clauses := []query.Query{parsed}
	for k, v := range filters {
		clauses = append(clauses, filterQuery(k, v))
	}
	var q query.Query = parsed
	if len(clauses) > 1 {
		q = bleve.NewConjunctionQuery(clauses...)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, apperrors.Unavailable("lexical index is closed", ErrClosed)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.IncludeLocations = true
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.New(apperrors.ErrCodeSearchFailed, "lexical search failed", err)
	}

	out := make([]*LexicalMatch, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, &LexicalMatch{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return out, nil
}

func filterQuery(key, value string) query.Query {
	switch key {
	case FilterPathPrefix:
		q := bleve.NewPrefixQuery(value)
		q.SetField("path")
		return q
	default:
		q := bleve.NewTermQuery(strings.ToLower(value))
		q.SetField(key)
		return q
	}
}

func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

func (b *BleveIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	n, err := b.index.DocCount()
	return int(n), err
}

func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// matchedTerms lists the distinct terms that matched in searchable text.
func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, terms := range hit.Locations {
		switch field {
		case "path", "language", "kind":
			continue
		}
		for term := range terms {
			seen[term] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var _ LexicalIndex = (*BleveIndex)(nil)

// codeTokenizer feeds TokenizeCode output into Bleve.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := asciiLower(input)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, tok := range tokens {
		start := strings.Index(lower[offset:], tok)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := min(start+len(tok), len(text))
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

// asciiLower lowercases A-Z only, so byte offsets line up with the input.
func asciiLower(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

type stopFilter struct {
	stop map[string]struct{}
}

func (f stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, ok := f.stop[string(tok.Term)]; !ok {
			out = append(out, tok)
		}
	}
	return out
}
