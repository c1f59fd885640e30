// Package storage defines persistence for datasets, chunks, and consumer links.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Store defines dataset, chunk, and consumer-link persistence.
//
// CommitDataset is all-or-nothing per dataset: either every chunk/vector pair
// becomes visible to QueryScope or none do. The store serializes commits to
// the same dataset id; different datasets commit in parallel.
type Store interface {
	// Dataset operations
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	GetDataset(ctx context.Context, id string) (*models.Dataset, error)
	ListDatasets(ctx context.Context) ([]*models.Dataset, error)
	SetDatasetStatus(ctx context.Context, id string, status models.DatasetStatus, errorMessage string) error
	DeleteDataset(ctx context.Context, id string) error

	// Chunk operations
	CommitDataset(ctx context.Context, datasetID string, chunks []*models.Chunk) error
	// QueryScope returns chunk metadata and vectors for every ready dataset
	// in scope, ordered by dataset id then ordinal. Unknown ids contribute
	// zero candidates.
	QueryScope(ctx context.Context, datasetIDs []string) ([]models.ScopedChunk, error)
	GetChunks(ctx context.Context, datasetID string) ([]*models.Chunk, error)

	// Consumer operations
	UpsertConsumer(ctx context.Context, c *models.Consumer) error
	GetConsumer(ctx context.Context, id string) (*models.Consumer, error)
	SetLink(ctx context.Context, link *models.ConsumerLink) error
	GetLink(ctx context.Context, consumerID, datasetID string) (*models.ConsumerLink, error)
	GetLinks(ctx context.Context, consumerID string) ([]*models.ConsumerLink, error)
	TouchLink(ctx context.Context, consumerID, datasetID string, usedAt time.Time) error

	// Stats
	CountDatasets(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
