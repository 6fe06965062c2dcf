package vector

import "context"

// Index holds the photo embeddings of one session for similarity search.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Vector(id string) ([]float32, bool)
	Size() int
}

// VectorResult is a single search hit; ID is a photo source ref.
type VectorResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"` // cosine similarity for normalized vectors
}
