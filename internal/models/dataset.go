// Package models defines core data structures for datasets, chunks, consumer links, and retrieval results.
package models

import "time"

// DatasetStatus is the processing state of a dataset.
type DatasetStatus string

const (
	// StatusPending means the dataset exists but has never been ingested.
	StatusPending DatasetStatus = "pending"
	// StatusProcessing means an ingestion is in flight.
	StatusProcessing DatasetStatus = "processing"
	// StatusReady means the dataset's chunks are committed and queryable.
	StatusReady DatasetStatus = "ready"
	// StatusFailed means the last ingestion failed; ErrorMessage holds the cause.
	StatusFailed DatasetStatus = "failed"
)

// BackendKind selects the embedding backend for a dataset. The backend is
// chosen at dataset creation time and recorded here so every chunk in the
// dataset is embedded by the same model.
type BackendKind string

const (
	// BackendLocal runs local ONNX inference.
	BackendLocal BackendKind = "local"
	// BackendCloud calls an OpenAI-compatible embeddings API.
	BackendCloud BackendKind = "cloud"
)

// Dataset is a named corpus of ingested chunks sharing one embedding model
// and dimensionality.
type Dataset struct {
	ID             string        `json:"id" db:"id"`
	Name           string        `json:"name" db:"name"`
	SourceCategory string        `json:"source_category,omitempty" db:"source_category"`
	Backend        BackendKind   `json:"backend" db:"backend"`
	EmbeddingModel string        `json:"embedding_model" db:"embedding_model"`
	Dimensions     int           `json:"dimensions" db:"dimensions"`
	Status         DatasetStatus `json:"status" db:"status"`
	ErrorMessage   string        `json:"error_message,omitempty" db:"error_message"`
	ChunkCount     int           `json:"chunk_count" db:"chunk_count"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// Queryable reports whether the dataset may participate in retrieval.
func (d *Dataset) Queryable() bool {
	return d.Status == StatusReady
}

// Chunk is one bounded text segment of a dataset. Chunks are created in a
// batch during ingestion and are immutable afterwards; they are deleted only
// by deleting the owning dataset.
type Chunk struct {
	ID          string    `json:"id" db:"id"`
	DatasetID   string    `json:"dataset_id" db:"dataset_id"`
	Ordinal     int       `json:"ordinal" db:"ordinal"`
	Content     string    `json:"content" db:"content"`
	StartOffset int       `json:"start_offset" db:"start_offset"`
	EndOffset   int       `json:"end_offset" db:"end_offset"`
	Section     string    `json:"section,omitempty" db:"section"`
	Page        int       `json:"page,omitempty" db:"page"`
	TokenCount  int       `json:"token_count" db:"token_count"`
	Tags        []string  `json:"tags,omitempty" db:"-"`
	Embedding   []float32 `json:"-" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ScopedChunk is a chunk paired with its dataset's display name, as returned
// by the store for a retrieval scope.
type ScopedChunk struct {
	*Chunk
	DatasetName string
}
