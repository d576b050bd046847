// Package store holds the persistence layer: the lexical index (Bleve or
// SQLite FTS5), the HNSW vector store and the SQLite item store.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Kind is the coarse content class of an item.
type Kind string

const (
	KindCode   Kind = "code"
	KindDocs   Kind = "docs"
	KindConfig Kind = "config"
	KindText   Kind = "text"
)

// Item is one searchable unit: a file under the indexed root.
type Item struct {
	ID        string
	Path      string // relative to the project root, slash separated
	Language  string
	Kind      Kind
	Title     string
	Content   string
	Size      int64
	Hash      string
	UpdatedAt time.Time
}

// ItemID derives a stable item ID from a relative path.
func ItemID(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(sum[:])
}

// Filter keys understood by the lexical index and the item store.
const (
	FilterLanguage   = "language"
	FilterKind       = "kind"
	FilterPathPrefix = "path_prefix"
)

// ValidateFilters rejects unknown or empty filter keys.
func ValidateFilters(filters map[string]string) error {
	for k, v := range filters {
		switch k {
		case FilterLanguage, FilterKind, FilterPathPrefix:
			if strings.TrimSpace(v) == "" {
				return apperrors.New(apperrors.ErrCodeInvalidFilter, fmt.Sprintf("filter %q has an empty value", k), nil)
			}
		default:
			return apperrors.New(apperrors.ErrCodeInvalidFilter, fmt.Sprintf("unknown filter %q", k), nil).
				WithSuggestion("supported filters: language, kind, path_prefix")
		}
	}
	return nil
}

// MatchesFilters reports whether it satisfies every filter.
func (it *Item) MatchesFilters(filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case FilterLanguage:
			if !strings.EqualFold(it.Language, v) {
				return false
			}
		case FilterKind:
			if !strings.EqualFold(string(it.Kind), v) {
				return false
			}
		case FilterPathPrefix:
			if !strings.HasPrefix(it.Path, v) {
				return false
			}
		}
	}
	return true
}

// LexicalMatch is one lexical search hit.
type LexicalMatch struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex is an inverted index over items.
type LexicalIndex interface {
	// Index adds or replaces items.
	Index(ctx context.Context, items []*Item) error
	// Search returns up to limit matches, best first. Malformed queries and
	// unknown filters fail with ErrCodeInvalidQuery or ErrCodeInvalidFilter.
	Search(ctx context.Context, query string, filters map[string]string, limit int) ([]*LexicalMatch, error)
	Delete(ctx context.Context, ids []string) error
	Count() (int, error)
	Close() error
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32
	// Score is a similarity in [0,1], higher is closer.
	Score float32
}

// VectorStoreConfig configures the HNSW graph.
type VectorStoreConfig struct {
	Dimensions int
	// Metric is "cos" or "l2".
	Metric   string
	M        int
	EfSearch int
}

// DefaultVectorStoreConfig returns cosine defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore is an approximate nearest-neighbour index.
type VectorStore interface {
	// Add inserts vectors, replacing existing IDs.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch reports a vector of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'fusesearch index --force')", e.Expected, e.Got)
}

// State keys kept in the item store.
const (
	StateKeyEmbedderModel = "embedder_model"
	StateKeyDimensions    = "embedder_dimensions"
	StateKeyLexical       = "lexical_backend"
	StateKeyIndexedAt     = "indexed_at"
)

// ItemStore persists item payloads and index state.
type ItemStore interface {
	SaveItems(ctx context.Context, items []*Item) error
	// GetItems returns the items for ids in the same order, skipping unknown IDs.
	GetItems(ctx context.Context, ids []string) ([]*Item, error)
	// ItemsByPath returns every item without content, keyed by path.
	ItemsByPath(ctx context.Context) (map[string]*Item, error)
	// FilterIDs returns the subset of ids whose items match filters.
	FilterIDs(ctx context.Context, ids []string, filters map[string]string) (map[string]bool, error)
	DeleteItems(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	Close() error
}
