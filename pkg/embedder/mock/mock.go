// Package mock provides a deterministic embedder for tests.
//
// Vectors are bag-of-words token hashes: each lowercased token is hashed
// into a fixed bucket and the counts are normalized to unit length. Texts
// sharing tokens therefore get high cosine similarity, which makes
// similarity-ranking tests meaningful without a remote provider.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultDimensions = 256

// Embedder is a deterministic, offline embedder.Provider implementation.
type Embedder struct {
	dimensions int
}

// New creates a new mock embedder with the default dimensionality.
func New() *Embedder {
	return &Embedder{dimensions: defaultDimensions}
}

// NewWithDimensions creates a mock embedder producing vectors of the given
// length.
func NewWithDimensions(dims int) *Embedder {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, m.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum64()%uint64(m.dimensions)]++
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text independently. Never fails.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, _ := m.Embed(ctx, text)
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Name returns the provider name.
func (m *Embedder) Name() string {
	return "mock"
}

// Close is a no-op.
func (m *Embedder) Close() error {
	return nil
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales a vector to unit length. A zero vector is returned
// unchanged.
func normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
