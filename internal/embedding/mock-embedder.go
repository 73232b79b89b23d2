package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder is a deterministic embedder for tests and offline use. It
// returns a fixed-dimension unit vector derived from the text hash so that the
// same text always gets the same embedding.
type MockEmbedder struct {
	model ModelType
}

// NewMockEmbedder returns an embedder producing deterministic embeddings for
// the given model. Zero-dimension models fall back to 384 dimensions.
func NewMockEmbedder(model ModelType) *MockEmbedder {
	if model.Dimensions <= 0 {
		model.Dimensions = 384
	}
	if model.Name == "" {
		model.Name = "mock-embedder"
	}
	if model.MaxInputSize <= 0 {
		model.MaxInputSize = 512
	}
	return &MockEmbedder{model: model}
}

// Embed returns a deterministic normalized embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64() % 100003)
	emb := make([]float32, e.model.Dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Model returns the model identity this embedder reports.
func (e *MockEmbedder) Model() ModelType {
	return e.model
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}
