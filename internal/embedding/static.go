package embedding

import (
	"context"
	"fmt"
	"sync"
)

// StaticEmbedder returns explicit vectors for known texts and defers to a
// MockEmbedder of the same dimensionality for everything else. It records
// every batch it is asked for.
type StaticEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback *MockEmbedder
	batches  [][]string
}

// NewStaticEmbedder builds an embedder over vectors. All vectors must share one length.
func NewStaticEmbedder(vectors map[string][]float32) (*StaticEmbedder, error) {
	dim := 0
	for text, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("vector for %q has dimension %d, expected %d", text, len(v), dim)
		}
	}
	return &StaticEmbedder{vectors: vectors, fallback: NewMockEmbedder(dim)}, nil
}

// Set adds or replaces the vector for text.
func (e *StaticEmbedder) Set(text string, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = v
}

// Embed implements Embedder.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	v, ok := e.vectors[text]
	e.mu.Unlock()
	if ok {
		return append([]float32(nil), v...), nil
	}
	return e.fallback.Embed(ctx, text)
}

// EmbedBatch implements Embedder.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Batches returns the text batches requested so far.
func (e *StaticEmbedder) Batches() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.batches...)
}

// Dimensions implements Embedder.
func (e *StaticEmbedder) Dimensions() int { return e.fallback.Dimensions() }

// Close implements Embedder.
func (e *StaticEmbedder) Close() error { return nil }
