// Package embed turns text into vectors for the semantic backend.
package embed

import (
	"context"
	"errors"
	"math"
)

const (
	// StaticDimensions is the default vector length of the static embedder.
	StaticDimensions = 256

	// DefaultBatchSize is the number of texts embedded per batch while indexing.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch sizes to bound memory.
	MaxBatchSize = 256
)

// ErrClosed is returned by a closed embedder.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding length.
	Dimensions() int

	// ModelName identifies the model; indexes built with a different model
	// must be rebuilt.
	ModelName() string

	Close() error
}

// normalizeVector scales v to unit length in place. Zero vectors are left as is.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / mag)
	}
	return v
}

// ClampBatchSize keeps n within [1, MaxBatchSize], using DefaultBatchSize for 0.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}
