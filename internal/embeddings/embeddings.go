// Package embeddings provides dense embedding generation for indexing
// and retrieval, backed by local ONNX models via FastEmbed.
package embeddings

import (
	"context"
	"errors"
	"math"
)

// Sentinel errors for embedding operations.
var (
	// ErrEmptyInput is returned when no text is provided.
	ErrEmptyInput = errors.New("embeddings: empty input")

	// ErrEmbeddingFailed is returned when the model fails to produce vectors.
	ErrEmbeddingFailed = errors.New("embeddings: embedding failed")

	// ErrInvalidConfig is returned for unsupported models or bad options.
	ErrInvalidConfig = errors.New("embeddings: invalid config")
)

// DefaultModel matches the retrieval model the index was designed around.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// Embedder generates dense vectors for documents and queries.
type Embedder interface {
	// EmbedDocuments embeds a batch of passages for indexing.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimension of the active model.
	Dimension() int

	// Close releases model resources.
	Close() error
}

// Normalize scales v to unit L2 norm in place and returns it. A zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// NormalizeAll normalizes every vector in vs in place and returns vs.
func NormalizeAll(vs [][]float32) [][]float32 {
	for i := range vs {
		Normalize(vs[i])
	}
	return vs
}
