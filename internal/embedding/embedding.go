package embedding

// Embedding is a vector representation of a node's content.
type Embedding struct {
	Vector []float32 `json:"vector" cbor:"v"`
}

// NewEmbedding copies vector into a new Embedding.
func NewEmbedding(vector []float32) *Embedding {
	v := make([]float32, len(vector))
	copy(v, vector)
	return &Embedding{Vector: v}
}

// Score returns the cosine similarity against query, clamped to [0, 1].
// Both vectors are assumed normalized to unit length, so this is a dot product.
func (e *Embedding) Score(query []float32) float64 {
	if e == nil || len(e.Vector) != len(query) || len(query) == 0 {
		return 0
	}
	var dot float64
	for i := range query {
		dot += float64(e.Vector[i] * query[i])
	}
	if dot < 0 {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}

// Copy returns a deep copy, or nil for a nil embedding.
func (e *Embedding) Copy() *Embedding {
	if e == nil {
		return nil
	}
	return NewEmbedding(e.Vector)
}
