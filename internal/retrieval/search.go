// Package retrieval computes similarity over scoped chunk vectors and
// assembles the final attributed context bundle.
package retrieval

import (
	"sort"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Search scores every scoped chunk against the query vector with exact cosine
// similarity, drops candidates strictly below threshold, and returns at most
// topK results sorted descending by similarity. Ties break by ascending
// dataset id then ascending ordinal so the ordering is reproducible. A
// zero-norm vector on either side scores 0. An empty scope returns an empty
// slice, never an error.
//
// The scan is brute force, which is fine at the corpus sizes this engine
// targets; an ANN index can replace it behind the same contract.
func Search(queryVec []float32, scoped []models.ScopedChunk, threshold float64, topK int) []*models.RetrievalResult {
	if topK <= 0 || len(scoped) == 0 {
		return nil
	}
	candidates := make([]*models.RetrievalResult, 0, len(scoped))
	for _, sc := range scoped {
		sim := utils.CosineSimilarity(queryVec, sc.Embedding)
		if sim < threshold {
			continue
		}
		candidates = append(candidates, &models.RetrievalResult{
			Chunk:       sc.Chunk,
			DatasetName: sc.DatasetName,
			BaseScore:   sim,
			Score:       sim,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].BaseScore != candidates[j].BaseScore {
			return candidates[i].BaseScore > candidates[j].BaseScore
		}
		if candidates[i].Chunk.DatasetID != candidates[j].Chunk.DatasetID {
			return candidates[i].Chunk.DatasetID < candidates[j].Chunk.DatasetID
		}
		return candidates[i].Chunk.Ordinal < candidates[j].Chunk.Ordinal
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}
