// Package embedding provides the vector-embedding capability: an adapter for
// OpenAI-compatible embedding endpoints, an LRU cache, and deterministic
// embedders for tests and offline runs.
package embedding

import "context"

// Embedder produces vector embeddings for text. All vectors from one
// embedder have the same dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
