package retrieval

import (
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func result(datasetID string, ordinal, tokens int, score float64) *models.RetrievalResult {
	return &models.RetrievalResult{
		Chunk: &models.Chunk{
			DatasetID:  datasetID,
			Ordinal:    ordinal,
			Content:    "content",
			TokenCount: tokens,
		},
		DatasetName: datasetID,
		BaseScore:   score,
		Score:       score,
	}
}

func TestAssembleRespectsMaxChunks(t *testing.T) {
	var reranked []*models.RetrievalResult
	for i := 0; i < 10; i++ {
		reranked = append(reranked, result("ds1", i, 10, 1.0-float64(i)*0.01))
	}

	bundle := Assemble(reranked, 3, 1000)
	if len(bundle.Items) != 3 {
		t.Errorf("expected 3 items, got %d", len(bundle.Items))
	}
	if !bundle.ContextUsed {
		t.Error("expected ContextUsed true")
	}
}

func TestAssembleWholeChunkOrNothing(t *testing.T) {
	reranked := []*models.RetrievalResult{
		result("ds1", 0, 100, 0.9),
		result("ds1", 1, 100, 0.8),
		result("ds1", 2, 100, 0.7), // would push total to 300, over budget
	}

	bundle := Assemble(reranked, 10, 250)
	if len(bundle.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(bundle.Items))
	}
	if bundle.TotalTokens != 200 {
		t.Errorf("expected 200 total tokens, got %d", bundle.TotalTokens)
	}
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	// A later, smaller chunk must not be pulled in after an earlier one
	// overflows the budget; selection is a strict prefix.
	reranked := []*models.RetrievalResult{
		result("ds1", 0, 200, 0.9),
		result("ds1", 1, 500, 0.8),
		result("ds1", 2, 50, 0.7),
	}

	bundle := Assemble(reranked, 10, 300)
	if len(bundle.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(bundle.Items))
	}
	if bundle.Items[0].Ordinal != 0 {
		t.Errorf("expected ordinal 0, got %d", bundle.Items[0].Ordinal)
	}
}

func TestAssembleDeduplicates(t *testing.T) {
	reranked := []*models.RetrievalResult{
		result("ds1", 0, 10, 0.9),
		result("ds1", 0, 10, 0.8),
		result("ds2", 0, 10, 0.7),
	}

	bundle := Assemble(reranked, 10, 1000)
	if len(bundle.Items) != 2 {
		t.Errorf("expected duplicate dropped, got %d items", len(bundle.Items))
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	bundle := Assemble(nil, 10, 1000)
	if bundle.ContextUsed {
		t.Error("expected ContextUsed false for empty input")
	}
	if len(bundle.Items) != 0 || bundle.TotalTokens != 0 {
		t.Errorf("expected empty bundle, got %d items / %d tokens", len(bundle.Items), bundle.TotalTokens)
	}
}

func TestAssembleAttribution(t *testing.T) {
	res := result("ds1", 4, 12, 0.95)
	res.Chunk.Section = "Install"
	res.Chunk.Page = 2
	res.DatasetName = "manual"

	bundle := Assemble([]*models.RetrievalResult{res}, 10, 1000)
	if len(bundle.Items) != 1 {
		t.Fatal("expected 1 item")
	}
	item := bundle.Items[0]
	if item.DatasetID != "ds1" || item.DatasetName != "manual" || item.Ordinal != 4 {
		t.Errorf("attribution mismatch: %+v", item)
	}
	if item.Section != "Install" || item.Page != 2 {
		t.Errorf("section/page mismatch: %+v", item)
	}
	if item.Score != 0.95 {
		t.Errorf("expected adjusted score carried, got %v", item.Score)
	}
}
