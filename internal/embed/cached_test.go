package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts calls and can be told to fail.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchSizes []int
	err        error
	model      string
}

func (m *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return []float32{float32(len(text))}, nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int { return 1 }
func (m *countingEmbedder) ModelName() string {
	if m.model == "" {
		return "counting"
	}
	return m.model
}
func (m *countingEmbedder) Close() error { return nil }

func TestCachedEmbedder_EmbedHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: the same text is embedded twice
	first, err := c.Embed(ctx, "query")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "query")
	require.NoError(t, err)

	// Then: the inner embedder runs once
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("boom")}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.Zero(t, c.Len())

	inner.err = nil
	_, err = c.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// Given: one text already cached
	_, err := c.Embed(ctx, "bb")
	require.NoError(t, err)

	// When: a batch contains it plus two misses
	vecs, err := c.EmbedBatch(ctx, []string{"a", "bb", "ccc"})

	// Then: order is preserved and only the misses reach the inner batch
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
	assert.Equal(t, []int{2}, inner.batchSizes)

	_, err = c.EmbedBatch(ctx, []string{"a", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	a := NewCachedEmbedder(&countingEmbedder{model: "a"}, 10)
	b := NewCachedEmbedder(&countingEmbedder{model: "b"}, 10)
	assert.NotEqual(t, a.key("same"), b.key("same"))
	assert.Equal(t, a.key("same"), a.key("same"))
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "a"} {
		_, err := c.Embed(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(4), inner.embedCalls.Load())
}
