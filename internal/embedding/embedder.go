// Package embedding provides text embedding generation, the embedding model
// catalog, and the vector type carried by resource nodes.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must return
// vectors normalized to unit L2 norm so that inner product equals cosine
// similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() ModelType
	Close() error
}
