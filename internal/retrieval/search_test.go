package retrieval

import (
	"math"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func scopedChunk(datasetID string, ordinal int, vec []float32) models.ScopedChunk {
	return models.ScopedChunk{
		Chunk: &models.Chunk{
			ID:        datasetID + "-" + string(rune('a'+ordinal)),
			DatasetID: datasetID,
			Ordinal:   ordinal,
			Content:   "chunk",
			Embedding: vec,
		},
		DatasetName: datasetID,
	}
}

func TestSearchExactMatchRanksFirst(t *testing.T) {
	query := []float32{0.6, 0.8, 0}
	scoped := []models.ScopedChunk{
		scopedChunk("ds1", 0, []float32{1, 0, 0}),
		scopedChunk("ds1", 1, []float32{0, 1, 0}),
		scopedChunk("ds1", 2, []float32{0.6, 0.8, 0}),
		scopedChunk("ds1", 3, []float32{0, 0, 1}),
	}

	results := Search(query, scoped, 0, 10)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Chunk.Ordinal != 2 {
		t.Errorf("expected identical chunk first, got ordinal %d", results[0].Chunk.Ordinal)
	}
	if math.Abs(results[0].BaseScore-1.0) > 1e-6 {
		t.Errorf("expected score 1.0 for identical vector, got %v", results[0].BaseScore)
	}
}

func TestSearchThresholdExcludesStrictlyBelow(t *testing.T) {
	query := []float32{1, 0}
	scoped := []models.ScopedChunk{
		scopedChunk("ds1", 0, []float32{1, 0}),                       // sim 1.0
		scopedChunk("ds1", 1, []float32{0.7071068, 0.7071068}),       // sim ~0.7071
		scopedChunk("ds1", 2, []float32{0, 1}),                       // sim 0.0
		scopedChunk("ds1", 3, []float32{-1, 0}),                      // sim -1.0
	}

	results := Search(query, scoped, 0.7, 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 results at or above threshold, got %d", len(results))
	}
	for _, res := range results {
		if res.BaseScore < 0.7 {
			t.Errorf("result below threshold: %v", res.BaseScore)
		}
	}
}

func TestSearchTopKCaps(t *testing.T) {
	query := []float32{1, 0}
	var scoped []models.ScopedChunk
	for i := 0; i < 20; i++ {
		scoped = append(scoped, scopedChunk("ds1", i, []float32{1, float32(i) * 0.01}))
	}

	results := Search(query, scoped, 0, 5)
	if len(results) != 5 {
		t.Errorf("expected 5 results, got %d", len(results))
	}
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	query := []float32{1, 0}
	vec := []float32{1, 0}
	scoped := []models.ScopedChunk{
		scopedChunk("ds2", 1, vec),
		scopedChunk("ds1", 2, vec),
		scopedChunk("ds2", 0, vec),
		scopedChunk("ds1", 0, vec),
	}

	results := Search(query, scoped, 0, 10)
	want := []struct {
		dataset string
		ordinal int
	}{{"ds1", 0}, {"ds1", 2}, {"ds2", 0}, {"ds2", 1}}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, res := range results {
		if res.Chunk.DatasetID != want[i].dataset || res.Chunk.Ordinal != want[i].ordinal {
			t.Errorf("position %d: got (%s, %d), want (%s, %d)", i, res.Chunk.DatasetID, res.Chunk.Ordinal, want[i].dataset, want[i].ordinal)
		}
	}
}

func TestSearchEmptyScope(t *testing.T) {
	results := Search([]float32{1, 0}, nil, 0, 10)
	if len(results) != 0 {
		t.Errorf("expected no results for empty scope, got %d", len(results))
	}
}

func TestSearchZeroNormVectorScoresZero(t *testing.T) {
	query := []float32{1, 0}
	scoped := []models.ScopedChunk{
		scopedChunk("ds1", 0, []float32{0, 0}),
	}
	results := Search(query, scoped, 0.1, 10)
	if len(results) != 0 {
		t.Errorf("expected zero-norm chunk excluded by threshold, got %d results", len(results))
	}
}
