// Package embed turns text into dense vectors for the retrieval pipeline.
// The default provider is a local Ollama instance; a deterministic static
// embedder serves tests and air-gapped setups. Wrap any provider with
// NewCachedEmbedder to avoid re-embedding repeated queries.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request. Cold model loads
	// can take tens of seconds, so this is deliberately generous.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions matches the default qwen3-embedding:0.6b model.
	DefaultDimensions = 1024

	// StaticDimensions is the dimension of the static fallback embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text. Empty or
	// whitespace-only text yields a zero vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	Close() error
}
