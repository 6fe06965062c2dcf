// Package prototype builds one normalized mean embedding per labeled class.
package prototype

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/embedding"
	"github.com/hyperjump/pawsort/internal/models"
	"github.com/hyperjump/pawsort/internal/vector"
)

// Builder embeds reference photos chunk by chunk and averages them into prototypes.
type Builder struct {
	embedder  embedding.Embedder
	batchSize int
	dtype     codec.DType
	logger    *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder returns a builder sending at most batchSize photos per embed call.
func NewBuilder(e embedding.Embedder, batchSize int, dtype codec.DType, opts ...Option) *Builder {
	if batchSize < 1 {
		batchSize = 1
	}
	b := &Builder{embedder: e, batchSize: batchSize, dtype: dtype}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Result is the outcome of a build.
type Result struct {
	Prototypes   []models.Prototype
	Dimension    int
	ModelVersion string
}

// Build returns one prototype per class, in input order. It fails fast: the first
// error aborts the build and no partial list is returned. Cancellation is checked
// before every chunk; embed calls already issued run to completion.
func (b *Builder) Build(ctx context.Context, classes []models.ClassReferences, onProgress models.ProgressFunc) (*Result, error) {
	total := len(classes)
	res := &Result{Prototypes: make([]models.Prototype, 0, total)}
	for ci, class := range classes {
		if len(class.Refs) == 0 {
			return nil, models.Invalidf("class %q has no reference photos", class.ClassID)
		}
		buf := make([]float32, 0, len(class.Refs)*max(res.Dimension, 1))
		rows := 0
		for start := 0; start < len(class.Refs); start += b.batchSize {
			if ctx.Err() != nil {
				return nil, models.Cancellation(ctx)
			}
			end := min(start+b.batchSize, len(class.Refs))
			chunk := class.Refs[start:end]

			out, err := b.embedder.EmbedBatch(context.WithoutCancel(ctx), chunk, b.dtype)
			if err != nil {
				return nil, fmt.Errorf("class %q: %w", class.ClassID, err)
			}
			batch := out.Batch
			if batch.N != len(chunk) {
				return nil, models.Formatf("class %q: service returned %d rows for %d photos", class.ClassID, batch.N, len(chunk))
			}
			if res.Dimension == 0 {
				res.Dimension = batch.D
			} else if batch.D != res.Dimension {
				return nil, models.Formatf("class %q: dimension %d, expected %d", class.ClassID, batch.D, res.Dimension)
			}
			if out.ModelVersion != "" {
				res.ModelVersion = out.ModelVersion
			}
			buf = append(buf, batch.Vectors...)
			rows += batch.N
		}

		mean := vector.MeanOfRows(buf, rows, res.Dimension)
		vector.L2Normalize(mean)
		res.Prototypes = append(res.Prototypes, models.Prototype{ClassID: class.ClassID, Vector: mean})

		if b.logger != nil {
			b.logger.Debug("prototype built", zap.String("class", class.ClassID), zap.Int("refs", rows))
		}
		if onProgress != nil {
			onProgress(models.BuildingPrototypes{Done: ci + 1, Total: total})
		}
	}
	return res, nil
}
