// Package ingest runs the dataset ingestion pipeline: extract, chunk, embed, commit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// retryBaseDelay is the first backoff delay for retryable embedding failures;
// each attempt doubles it.
const retryBaseDelay = 500 * time.Millisecond

// Ingestor runs text through the chunk-embed-commit pipeline and keeps the
// keyword index in step with the vector store.
type Ingestor struct {
	store      storage.Store
	embedder   embedding.Embedder
	keyword    keyword.Index // optional; nil disables keyword indexing
	extractor  *extract.Extractor
	chunking   chunker.Options
	backend    models.BackendKind
	maxRetries int
	logger     *zap.Logger
}

// NewIngestor creates an ingestor with the given dependencies. backend is the
// kind of the active embedder, recorded on datasets created here.
// kw may be nil; when nil, keyword indexing is skipped.
// extractor may be nil; when nil, IngestFile treats all files as plain text.
func NewIngestor(
	store storage.Store,
	embedder embedding.Embedder,
	kw keyword.Index,
	extractor *extract.Extractor,
	chunking chunker.Options,
	backend models.BackendKind,
	maxRetries int,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		store:      store,
		embedder:   embedder,
		keyword:    kw,
		extractor:  extractor,
		chunking:   chunking,
		backend:    backend,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// CreateDataset registers a new, empty dataset bound to the active embedding
// backend. The dataset starts in pending status and joins retrieval scope
// only after a successful ingestion.
func (ig *Ingestor) CreateDataset(ctx context.Context, id, name, sourceCategory string, backend models.BackendKind) (*models.Dataset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.Validationf("dataset name must not be empty")
	}
	if id == "" {
		id = uuid.New().String()
	}
	ds := &models.Dataset{
		ID:             id,
		Name:           name,
		SourceCategory: sourceCategory,
		Backend:        backend,
		EmbeddingModel: ig.embedder.ModelID(),
		Dimensions:     ig.embedder.Dimensions(),
		Status:         models.StatusPending,
	}
	if err := ig.store.CreateDataset(ctx, ds); err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return ds, nil
}

// IngestText chunks, embeds, and commits text into the dataset, replacing any
// previous contents. The dataset is processing while the pipeline runs, ready
// on success, failed with an error message on failure. A cancelled ingestion
// restores the status the dataset had before, leaving its committed chunks
// untouched.
func (ig *Ingestor) IngestText(ctx context.Context, datasetID, text string, tags []string) error {
	ds, err := ig.store.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	prior := ds.Status
	if err := ig.store.SetDatasetStatus(ctx, datasetID, models.StatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark dataset processing: %w", err)
	}

	if err := ig.run(ctx, ds, text, tags); err != nil {
		// The request context is typically dead at this point, so status
		// recovery writes run on a fresh context.
		recoverCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if restoreErr := ig.store.SetDatasetStatus(recoverCtx, datasetID, prior, ""); restoreErr != nil {
				ig.logger.Warn("failed to restore dataset status after cancellation",
					zap.String("dataset_id", datasetID), zap.Error(restoreErr))
			}
			return err
		}
		if failErr := ig.store.SetDatasetStatus(recoverCtx, datasetID, models.StatusFailed, err.Error()); failErr != nil {
			ig.logger.Warn("failed to mark dataset failed",
				zap.String("dataset_id", datasetID), zap.Error(failErr))
		}
		return err
	}
	return nil
}

// run executes the pipeline body. The commit inside sets the dataset ready.
func (ig *Ingestor) run(ctx context.Context, ds *models.Dataset, text string, tags []string) error {
	text = Preprocess(text)
	drafts, err := chunker.Chunk(text, ig.chunking)
	if err != nil {
		return err
	}

	chunks := make([]*models.Chunk, 0, len(drafts))
	texts := make([]string, 0, len(drafts))
	for _, d := range drafts {
		if strings.TrimSpace(d.Content) == "" {
			ig.logger.Warn("skipping empty chunk",
				zap.String("dataset_id", ds.ID), zap.Int("ordinal", d.Ordinal))
			continue
		}
		texts = append(texts, d.Content)
		chunks = append(chunks, &models.Chunk{
			ID:          uuid.New().String(),
			DatasetID:   ds.ID,
			Ordinal:     d.Ordinal,
			Content:     d.Content,
			StartOffset: d.StartOffset,
			EndOffset:   d.EndOffset,
			Section:     d.Section,
			TokenCount:  d.TokenCount,
			Tags:        tags,
		})
	}

	if len(chunks) > 0 {
		embeddings, err := ig.embedBatchWithRetry(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		for i := range chunks {
			chunks[i].Embedding = embeddings[i]
		}
	}

	if err := ig.store.CommitDataset(ctx, ds.ID, chunks); err != nil {
		return err
	}

	if ig.keyword != nil {
		if err := ig.keyword.DeleteDataset(ctx, ds.ID); err != nil {
			ig.logger.Warn("failed to clear keyword index for dataset",
				zap.String("dataset_id", ds.ID), zap.Error(err))
		}
		if len(chunks) > 0 {
			if err := ig.keyword.IndexChunks(ctx, chunks); err != nil {
				ig.logger.Warn("failed to update keyword index",
					zap.String("dataset_id", ds.ID), zap.Error(err))
			}
		}
	}

	ig.logger.Debug("dataset ingested",
		zap.String("dataset_id", ds.ID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// embedBatchWithRetry retries retryable backend failures with exponential
// backoff. Validation errors and other permanent failures surface immediately.
func (ig *Ingestor) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= ig.maxRetries; attempt++ {
		if attempt > 0 {
			ig.logger.Debug("retrying embedding batch",
				zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		embeddings, err := ig.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		if !models.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// IngestFile extracts text from the file at path and ingests it into the
// dataset. The file format is detected by extension.
func (ig *Ingestor) IngestFile(ctx context.Context, datasetID, path string, tags []string) error {
	text, err := ig.extractContent(path)
	if err != nil {
		return fmt.Errorf("extract content: %w", err)
	}
	return ig.IngestText(ctx, datasetID, text, tags)
}

// IngestPath ingests a file under a dataset whose id derives from the
// absolute path, creating the dataset on first sight. Re-ingesting the same
// path replaces the same dataset. Used by the directory watcher.
func (ig *Ingestor) IngestPath(ctx context.Context, path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", absPath)
	}
	datasetID := fileid.DatasetID(absPath)
	if _, err := ig.store.GetDataset(ctx, datasetID); err != nil {
		if !models.IsNotFound(err) {
			return "", err
		}
		if _, err := ig.CreateDataset(ctx, datasetID, filepath.Base(absPath), "watched", ig.backend); err != nil {
			return "", err
		}
	}
	if err := ig.IngestFile(ctx, datasetID, absPath, nil); err != nil {
		return "", err
	}
	return datasetID, nil
}

// DeleteDataset removes a dataset from the store and the keyword index. The
// store cascades chunk and link deletion.
func (ig *Ingestor) DeleteDataset(ctx context.Context, datasetID string) error {
	if ig.keyword != nil {
		if err := ig.keyword.DeleteDataset(ctx, datasetID); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if err := ig.store.DeleteDataset(ctx, datasetID); err != nil {
		return err
	}
	ig.logger.Debug("dataset deleted", zap.String("dataset_id", datasetID))
	return nil
}

// DeletePath removes the dataset of a watched file path.
func (ig *Ingestor) DeletePath(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return ig.DeleteDataset(ctx, fileid.DatasetID(absPath))
}

func (ig *Ingestor) extractContent(path string) (string, error) {
	if ig.extractor != nil {
		res, err := ig.extractor.Extract(path)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
