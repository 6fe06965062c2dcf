package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/models"
)

// MockModelVersion is reported by MockEmbedder responses.
const MockModelVersion = "mock-1"

// MockEmbedder is a deterministic embedder for tests and offline runs. Each photo gets a
// random unit vector seeded by a hash of its key, so photos with the same key embed
// identically and different keys are close to orthogonal.
// Rows travel through the wire codec, so f16 requests see f16 precision.
type MockEmbedder struct {
	dimensions int
	key        func(ref string) string
}

// MockOption configures a MockEmbedder.
type MockOption func(*MockEmbedder)

// WithKeyFunc sets how a photo reference maps to the hashed key.
func WithKeyFunc(fn func(ref string) string) MockOption {
	return func(e *MockEmbedder) {
		e.key = fn
	}
}

// StemKey keys a photo by its file name up to the first '_' or '.', so
// "rex_01.jpg" and "rex_02.png" share an embedding.
func StemKey(ref string) string {
	name := strings.ToLower(filepath.Base(ref))
	if i := strings.IndexAny(name, "_."); i > 0 {
		name = name[:i]
	}
	return name
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int, opts ...MockOption) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	e := &MockEmbedder{dimensions: dimensions, key: StemKey}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Vector returns the normalized embedding for key.
func (e *MockEmbedder) Vector(key string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(rng.NormFloat64())
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb
}

// EmbedBatch embeds each ref by key and returns the rows as decoded from the wire format.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, refs []string, dtype codec.DType) (*BatchResult, error) {
	if len(refs) == 0 {
		return nil, models.Invalidf("embed batch: no photos")
	}
	rows := make([][]float32, len(refs))
	for i, ref := range refs {
		rows[i] = e.Vector(e.key(ref))
	}
	payload, err := codec.Encode(rows, dtype)
	if err != nil {
		return nil, err
	}
	batch, err := codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	return &BatchResult{ModelVersion: MockModelVersion, Batch: batch}, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
