package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/fileid"
	"github.com/hyperjump/pawsort/internal/models"
)

// DefaultCacheSize is the number of embeddings kept by NewCachedEmbedder when size <= 0.
const DefaultCacheSize = 4096

type cacheEntry struct {
	vector       []float32
	modelVersion string
}

// CachedEmbedder wraps an Embedder with an LRU cache keyed by photo fingerprint and dtype.
// Only cache misses go upstream, in their original order, as a single call.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, cacheEntry]
	logger *zap.Logger
}

// NewCachedEmbedder creates a caching wrapper around inner.
func NewCachedEmbedder(inner Embedder, size int, logger *zap.Logger) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: c, logger: logger}, nil
}

func cacheKey(ref string, dtype codec.DType) string {
	fp, err := fileid.Fingerprint(ref)
	if err != nil {
		return ""
	}
	return fp + "|" + dtype.String()
}

// EmbedBatch serves cached rows and fetches the rest from the wrapped embedder. Rows of
// one batch always come from a single model: when the upstream model version or
// dimension no longer matches the cached rows, the cache is purged and the whole batch
// is fetched again.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, refs []string, dtype codec.DType) (*BatchResult, error) {
	keys := make([]string, len(refs))
	rows := make([][]float32, len(refs))
	version := ""
	dim := 0
	hits := 0
	stale := false
	var missIdx []int
	var missRefs []string
	for i, ref := range refs {
		keys[i] = cacheKey(ref, dtype)
		if keys[i] != "" {
			if e, ok := c.cache.Get(keys[i]); ok {
				if hits > 0 && (len(e.vector) != dim || e.modelVersion != version) {
					stale = true
					break
				}
				rows[i] = e.vector
				dim = len(e.vector)
				version = e.modelVersion
				hits++
				continue
			}
		}
		missIdx = append(missIdx, i)
		missRefs = append(missRefs, ref)
	}
	if stale {
		c.purge("cached rows disagree on model")
		return c.fetchAll(ctx, refs, keys, dtype)
	}

	if len(missRefs) > 0 {
		res, err := c.inner.EmbedBatch(ctx, missRefs, dtype)
		if err != nil {
			return nil, err
		}
		b := res.Batch
		if b.N != len(missRefs) {
			return nil, models.Formatf("service returned %d rows for %d photos", b.N, len(missRefs))
		}
		if hits > 0 && (b.D != dim || res.ModelVersion != version) {
			c.purge("embedding model changed",
				zap.String("old_version", version), zap.String("new_version", res.ModelVersion),
				zap.Int("old_dim", dim), zap.Int("new_dim", b.D))
			return c.fetchAll(ctx, refs, keys, dtype)
		}
		dim = b.D
		version = res.ModelVersion
		for j, i := range missIdx {
			row := append([]float32(nil), b.Row(j)...)
			rows[i] = row
			if keys[i] != "" {
				c.cache.Add(keys[i], cacheEntry{vector: row, modelVersion: res.ModelVersion})
			}
		}
	}

	if c.logger != nil {
		c.logger.Debug("embedding cache",
			zap.Int("hits", hits),
			zap.Int("misses", len(missRefs)))
	}

	vectors := make([]float32, 0, len(refs)*dim)
	for _, r := range rows {
		vectors = append(vectors, r...)
	}
	return &BatchResult{
		ModelVersion: version,
		Batch:        &codec.Batch{N: len(refs), D: dim, DType: dtype, Vectors: vectors},
	}, nil
}

func (c *CachedEmbedder) purge(reason string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Info(reason+", purging cache", fields...)
	}
	c.cache.Purge()
}

// fetchAll embeds every ref upstream and caches the rows.
func (c *CachedEmbedder) fetchAll(ctx context.Context, refs, keys []string, dtype codec.DType) (*BatchResult, error) {
	res, err := c.inner.EmbedBatch(ctx, refs, dtype)
	if err != nil {
		return nil, err
	}
	if res.Batch.N != len(refs) {
		return nil, models.Formatf("service returned %d rows for %d photos", res.Batch.N, len(refs))
	}
	for i, key := range keys {
		if key != "" {
			c.cache.Add(key, cacheEntry{vector: append([]float32(nil), res.Batch.Row(i)...), modelVersion: res.ModelVersion})
		}
	}
	return res, nil
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Close closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
