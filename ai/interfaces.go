package ai

import "context"

// Embedder turns text into fixed-dimensionality vectors.
// For a fixed model the mapping from text to vector is treated as
// deterministic. Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedDocuments generates one embedding per input text, in input order.
	// Every returned vector has the same length.
	// Failures wrap core.ErrEmbedding.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates the embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider owns an Embedder and the resources behind it.
type Provider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Model returns the identifier of the embedding model in use.
	Model() string

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
