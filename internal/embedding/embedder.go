// Package embedding talks to the remote inference service that turns photos into
// embedding vectors, with caching and a deterministic mock.
package embedding

import (
	"context"

	"github.com/hyperjump/pawsort/internal/codec"
)

// BatchResult is one embed call's response: N rows in request order.
type BatchResult struct {
	ModelVersion string
	Batch        *codec.Batch
}

// Embedder produces one embedding row per photo reference, in order.
// Errors are *models.NetworkError for transport or HTTP failures and
// *models.FormatError for malformed payloads.
type Embedder interface {
	EmbedBatch(ctx context.Context, refs []string, dtype codec.DType) (*BatchResult, error)
	Close() error
}
