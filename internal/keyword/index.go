// Package keyword provides BM25 keyword search over chunks, as a lexical
// complement to vector retrieval.
package keyword

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// Index defines chunk-level keyword search operations. All queries are scoped
// to an explicit set of dataset ids; an empty scope matches nothing.
type Index interface {
	IndexChunks(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, datasetIDs []string, limit int) ([]*Result, error)
	DeleteDataset(ctx context.Context, datasetID string) error
	Close() error
	// DocCount returns the total number of indexed chunks.
	DocCount() (uint64, error)
}

// Result is a single keyword search hit.
type Result struct {
	ChunkID   string
	DatasetID string
	Ordinal   int
	Score     float64
}
