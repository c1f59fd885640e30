package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/kioku/internal/models"
)

// chunkDoc is the shape indexed into Bleve. Field names match the mapping.
type chunkDoc struct {
	Content   string `json:"content"`
	Section   string `json:"section"`
	Tags      string `json:"tags"`
	DatasetID string `json:"dataset_id"`
	Ordinal   int    `json:"ordinal"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Use standard analyzer (lowercase + tokenize, no stemming) so queries like "bayes" match
	// the exact word; English analyzer stems e.g. "Bayesian" -> "bayesi" and "bayes" -> "bay", so they don't match.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("section", textFieldMapping)
	docMapping.AddFieldMappingsAt("tags", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("dataset_id", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexChunks indexes chunks in one batch, keyed by chunk id.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, ch := range chunks {
		doc := chunkDoc{
			Content:   ch.Content,
			Section:   ch.Section,
			Tags:      strings.Join(ch.Tags, " "),
			DatasetID: ch.DatasetID,
			Ordinal:   ch.Ordinal,
		}
		if err := batch.Index(ch.ID, doc); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", ch.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// Search runs a match query over content, section, and tags, restricted to the
// given dataset ids. An empty scope returns no hits.
func (b *BleveIndex) Search(ctx context.Context, query string, datasetIDs []string, limit int) ([]*Result, error) {
	if len(datasetIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	match := bleve.NewMatchQuery(query)

	scope := bleve.NewDisjunctionQuery()
	for _, id := range datasetIDs {
		tq := bleve.NewTermQuery(id)
		tq.SetField("dataset_id")
		scope.AddQuery(tq)
	}

	q := bleve.NewConjunctionQuery(match, scope)
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = []string{"dataset_id", "ordinal"}
	results, err := b.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		res := &Result{ChunkID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["dataset_id"].(string); ok {
			res.DatasetID = v
		}
		if v, ok := hit.Fields["ordinal"].(float64); ok {
			res.Ordinal = int(v)
		}
		out[i] = res
	}
	return out, nil
}

// DeleteDataset removes every chunk of a dataset from the index.
func (b *BleveIndex) DeleteDataset(ctx context.Context, datasetID string) error {
	tq := bleve.NewTermQuery(datasetID)
	tq.SetField("dataset_id")
	search := bleve.NewSearchRequest(tq)
	// Page through matches; each pass deletes what it found.
	for {
		search.Size = 1000
		results, err := b.index.Search(search)
		if err != nil {
			return fmt.Errorf("Bleve scope search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
