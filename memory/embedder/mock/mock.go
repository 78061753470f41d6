// Package mock provides a deterministic embedder for tests and for
// running without a local model.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// Embedder generates deterministic embeddings from a text hash. Equal
// texts always map to equal vectors, different texts to (almost
// certainly) near-orthogonal ones, which is exactly what duplicate
// detection tests need. It provides no real semantic similarity.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with all-MiniLM-L6-v2 dimensions, so it
// can stand in for the ONNX embedder against the same collections.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed creates a deterministic unit vector from the text hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty input")
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	// LCG seeded by the hash; stable across runs and platforms.
	embedding := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
