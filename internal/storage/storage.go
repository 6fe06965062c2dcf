// Package storage persists export history.
package storage

import (
	"context"

	"github.com/hyperjump/pawsort/internal/models"
)

// Storage defines export history operations.
type Storage interface {
	CreateExport(ctx context.Context, rec *models.ExportRecord) error
	GetExport(ctx context.Context, id string) (*models.ExportRecord, error)
	ListExports(ctx context.Context, offset, limit int) ([]*models.ExportRecord, error)
	DeleteExport(ctx context.Context, id string) error

	CountExports(ctx context.Context) (int64, error)
	CountExportedFiles(ctx context.Context) (int64, error)

	Close() error
}
