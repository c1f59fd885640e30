package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/ranking"
	"github.com/hyperjump/kioku/internal/registry"
	"github.com/hyperjump/kioku/internal/storage"
)

// Engine runs the retrieval pipeline for a consumer: resolve scope, embed the
// query, score, rerank, assemble.
type Engine struct {
	store    storage.Store
	registry *registry.Registry
	embedder embedding.Embedder
	reranker *ranking.Reranker
	config   *config.RetrievalConfig
	logger   *zap.Logger
}

// RetrieveOptions override per-request retrieval parameters. Zero values fall
// back to the configured defaults.
type RetrieveOptions struct {
	TopK       int
	Threshold  float64
	MaxChunks  int
	MaxTokens  int
	IntentTags []string
}

// NewEngine creates a retrieval engine.
func NewEngine(store storage.Store, reg *registry.Registry, embedder embedding.Embedder, reranker *ranking.Reranker, cfg *config.RetrievalConfig, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		registry: reg,
		embedder: embedder,
		reranker: reranker,
		config:   cfg,
		logger:   logger,
	}
}

// RetrieveContext answers a query for a consumer. An empty scope (no enabled
// links, or none of the linked datasets ready) returns an empty bundle with
// ContextUsed false, not an error. Datasets embedded with a different model
// than the active embedder are skipped, since their vectors are not
// comparable to the query vector.
func (e *Engine) RetrieveContext(ctx context.Context, consumerID, query string, opts RetrieveOptions) (*models.ContextBundle, error) {
	e.applyDefaults(&opts)

	links, err := e.registry.EnabledLinks(ctx, consumerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scope: %w", err)
	}
	linkByDataset := make(map[string]*models.ConsumerLink, len(links))
	datasetIDs := make([]string, 0, len(links))
	for _, link := range links {
		ds, err := e.store.GetDataset(ctx, link.DatasetID)
		if err != nil {
			if models.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !ds.Queryable() {
			continue
		}
		if ds.EmbeddingModel != e.embedder.ModelID() {
			e.logger.Debug("skipping dataset with incompatible embedding model",
				zap.String("dataset_id", ds.ID),
				zap.String("dataset_model", ds.EmbeddingModel),
				zap.String("active_model", e.embedder.ModelID()))
			continue
		}
		linkByDataset[link.DatasetID] = link
		datasetIDs = append(datasetIDs, link.DatasetID)
	}
	if len(datasetIDs) == 0 {
		return &models.ContextBundle{}, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	scoped, err := e.store.QueryScope(ctx, datasetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load scope: %w", err)
	}

	results := Search(queryVec, scoped, opts.Threshold, opts.TopK)
	for _, res := range results {
		res.Link = linkByDataset[res.Chunk.DatasetID]
	}

	specialtyTags, err := e.registry.GetSpecialtyTags(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	reranked := e.reranker.Rerank(results, &ranking.Context{
		SpecialtyTags: specialtyTags,
		IntentTags:    opts.IntentTags,
	})

	bundle := Assemble(reranked, opts.MaxChunks, opts.MaxTokens)

	if bundle.ContextUsed {
		used := make(map[string]struct{})
		var usedIDs []string
		for _, item := range bundle.Items {
			if _, ok := used[item.DatasetID]; ok {
				continue
			}
			used[item.DatasetID] = struct{}{}
			usedIDs = append(usedIDs, item.DatasetID)
		}
		if err := e.registry.TouchUsage(ctx, consumerID, usedIDs, time.Now()); err != nil {
			e.logger.Warn("failed to record link usage", zap.Error(err))
		}
	}

	e.logger.Debug("retrieval complete",
		zap.String("consumer_id", consumerID),
		zap.Int("scope_datasets", len(datasetIDs)),
		zap.Int("candidates", len(results)),
		zap.Int("bundle_chunks", len(bundle.Items)),
		zap.Int("bundle_tokens", bundle.TotalTokens))
	return bundle, nil
}

func (e *Engine) applyDefaults(opts *RetrieveOptions) {
	if opts.TopK <= 0 {
		opts.TopK = e.config.DefaultTopK
	}
	if opts.TopK > e.config.MaxTopK {
		opts.TopK = e.config.MaxTopK
	}
	if opts.Threshold == 0 {
		opts.Threshold = e.config.DefaultThreshold
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = e.config.MaxChunks
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = e.config.MaxTokens
	}
}
