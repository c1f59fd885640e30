// Package integration provides end-to-end tests (requires real storage and indices).
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/ranking"
	"github.com/hyperjump/kioku/internal/registry"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/storage"
)

type pipeline struct {
	store    storage.Store
	keyword  keyword.Index
	registry *registry.Registry
	ingestor *ingest.Ingestor
	engine   *retrieval.Engine
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 8
	cfg.Chunking = config.ChunkingConfig{ChunkSize: 16, Overlap: 2, Strategy: "structure_aware"}

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "kioku.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	kwIndex, err := keyword.NewBleveIndex(filepath.Join(dir, "keyword.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kwIndex.Close() })

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	reg := registry.New(store)
	logger := zap.NewNop()

	ig := ingest.NewIngestor(
		store,
		embedder,
		kwIndex,
		nil,
		chunker.Options{
			ChunkSize: cfg.Chunking.ChunkSize,
			Overlap:   cfg.Chunking.Overlap,
			Strategy:  chunker.Strategy(cfg.Chunking.Strategy),
		},
		models.BackendLocal,
		cfg.Embedding.MaxRetries,
		logger,
	)
	engine := retrieval.NewEngine(store, reg, embedder, ranking.NewReranker(&cfg.Rank), &cfg.Retrieval, logger)

	return &pipeline{store: store, keyword: kwIndex, registry: reg, ingestor: ig, engine: engine}
}

func (p *pipeline) ingest(t *testing.T, ctx context.Context, name, text string, tags []string) string {
	t.Helper()
	ds, err := p.ingestor.CreateDataset(ctx, "", name, "docs", models.BackendLocal)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ingestor.IngestText(ctx, ds.ID, text, tags); err != nil {
		t.Fatal(err)
	}
	return ds.ID
}

func (p *pipeline) link(t *testing.T, ctx context.Context, consumerID, datasetID string, weight float64) {
	t.Helper()
	err := p.registry.SetLink(ctx, &models.ConsumerLink{
		ConsumerID:  consumerID,
		DatasetID:   datasetID,
		Enabled:     true,
		Weight:      weight,
		AccessLevel: models.AccessFull,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestIntegration_IngestAndRetrieve(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	manual := p.ingest(t, ctx, "billing manual",
		"# Refunds\n\nRefunds are issued within five business days of approval.\n\n"+
			"# Invoices\n\nInvoices are generated on the first of each month.",
		[]string{"billing"})
	p.link(t, ctx, "agent", manual, 1.0)

	ds, err := p.store.GetDataset(ctx, manual)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Status != models.StatusReady {
		t.Fatalf("expected ready dataset, got %s", ds.Status)
	}
	if ds.ChunkCount == 0 {
		t.Fatal("expected chunks after ingestion")
	}

	bundle, err := p.engine.RetrieveContext(ctx, "agent", "Refunds are issued within five business days of approval.", retrieval.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !bundle.ContextUsed {
		t.Fatal("expected context to be used")
	}
	if bundle.Items[0].DatasetID != manual {
		t.Errorf("expected top item from %s, got %s", manual, bundle.Items[0].DatasetID)
	}
	if bundle.TotalTokens == 0 {
		t.Error("expected non-zero total tokens")
	}
}

func TestIntegration_ScopeIsolation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	linked := p.ingest(t, ctx, "linked", "Shipping rates depend on destination and weight.", nil)
	unlinked := p.ingest(t, ctx, "unlinked", "Shipping rates depend on destination and weight.", nil)
	p.link(t, ctx, "agent", linked, 1.0)

	bundle, err := p.engine.RetrieveContext(ctx, "agent", "Shipping rates depend on destination and weight.", retrieval.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, item := range bundle.Items {
		if item.DatasetID == unlinked {
			t.Errorf("result leaked from unlinked dataset %s", unlinked)
		}
	}
	if len(bundle.Items) == 0 {
		t.Fatal("expected results from the linked dataset")
	}
}

func TestIntegration_EmptyScopeReturnsEmptyBundle(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.ingest(t, ctx, "orphan", "Nobody is linked to this dataset.", nil)

	bundle, err := p.engine.RetrieveContext(ctx, "agent", "anything at all", retrieval.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if bundle.ContextUsed {
		t.Error("expected ContextUsed false for empty scope")
	}
	if len(bundle.Items) != 0 {
		t.Errorf("expected no items, got %d", len(bundle.Items))
	}
}

func TestIntegration_LinkWeightBiasesRanking(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	text := "Identical content so cosine scores tie exactly."
	low := p.ingest(t, ctx, "low", text, nil)
	high := p.ingest(t, ctx, "high", text, nil)
	p.link(t, ctx, "agent", low, 0.5)
	p.link(t, ctx, "agent", high, 1.5)

	bundle, err := p.engine.RetrieveContext(ctx, "agent", text, retrieval.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bundle.Items) == 0 {
		t.Fatal("expected results")
	}
	if bundle.Items[0].DatasetID != high {
		t.Errorf("expected the higher-weight dataset first, got %s", bundle.Items[0].DatasetID)
	}
}

func TestIntegration_UsageTracking(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ds := p.ingest(t, ctx, "manual", "Token rotation happens every ninety days.", nil)
	p.link(t, ctx, "agent", ds, 1.0)

	if _, err := p.engine.RetrieveContext(ctx, "agent", "Token rotation happens every ninety days.", retrieval.RetrieveOptions{}); err != nil {
		t.Fatal(err)
	}

	links, err := p.registry.GetLinks(ctx, "agent")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if links[0].UseCount != 1 {
		t.Errorf("expected use count 1, got %d", links[0].UseCount)
	}
	if links[0].LastUsedAt.IsZero() {
		t.Error("expected last used timestamp to be set")
	}
}

func TestIntegration_KeywordSearchScoped(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	billing := p.ingest(t, ctx, "billing", "Chargebacks require a dispute reference number.", nil)
	p.ingest(t, ctx, "other", "Chargebacks require a dispute reference number.", nil)

	results, err := p.keyword.Search(ctx, "chargebacks", []string{billing}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected keyword hits")
	}
	for _, res := range results {
		if res.DatasetID != billing {
			t.Errorf("keyword hit leaked from dataset %s", res.DatasetID)
		}
	}
}

func TestIntegration_DeleteDatasetRemovesEverywhere(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ds := p.ingest(t, ctx, "ephemeral", "This dataset will be deleted.", nil)
	p.link(t, ctx, "agent", ds, 1.0)

	if err := p.ingestor.DeleteDataset(ctx, ds); err != nil {
		t.Fatal(err)
	}
	if _, err := p.store.GetDataset(ctx, ds); !models.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}

	bundle, err := p.engine.RetrieveContext(ctx, "agent", "This dataset will be deleted.", retrieval.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if bundle.ContextUsed {
		t.Error("expected no context after the dataset was deleted")
	}

	results, err := p.keyword.Search(ctx, "deleted", []string{ds}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no keyword hits after delete, got %d", len(results))
	}
}
