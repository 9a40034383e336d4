package core

import "context"

// EmbeddingProvider is a single vendor embedding endpoint. Implementations make exactly one
// network call per Embed and leave retries, caching and rate limiting to the caller.
type EmbeddingProvider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder is the capability the rest of the service consumes: a retrying, classified
// embedding client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimension() int
}

// QueryEmbedder is implemented by embedders that encode search queries differently from
// the documents they are matched against.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
