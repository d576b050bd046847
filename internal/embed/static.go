package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/fusesearch/internal/store"
)

// Weights for the two feature families.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// StaticEmbedder produces deterministic embeddings by feature hashing code
// tokens and character trigrams. It needs no model or network and is
// concurrency safe.
type StaticEmbedder struct {
	dims int
	stop map[string]struct{}

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder returns an embedder producing vectors of length dims.
// Non-positive dims select StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{
		dims: dims,
		stop: store.StopWordSet(store.DefaultStopWords),
	}
}

func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	text = strings.TrimSpace(text)
	if text == "" {
		return vec, nil
	}

	for _, tok := range store.RemoveStopWords(store.TokenizeCode(text), e.stop) {
		vec[e.bucket(tok)] += tokenWeight
	}
	for _, gram := range trigrams(text) {
		vec[e.bucket(gram)] += ngramWeight
	}
	return normalizeVector(vec), nil
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int { return e.dims }

func (e *StaticEmbedder) ModelName() string { return fmt.Sprintf("static-%d", e.dims) }

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *StaticEmbedder) bucket(feature string) int {
	return int(xxhash.Sum64String(feature) % uint64(e.dims))
}

// trigrams returns sliding three-rune windows over the lowercased letters and
// digits of text.
func trigrams(text string) []string {
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes = append(runes, r)
		}
	}
	if len(runes) < ngramSize {
		return nil
	}
	out := make([]string, 0, len(runes)-ngramSize+1)
	for i := 0; i+ngramSize <= len(runes); i++ {
		out = append(out, string(runes[i:i+ngramSize]))
	}
	return out
}

var _ Embedder = (*StaticEmbedder)(nil)
