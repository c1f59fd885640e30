package retrieval

import (
	"github.com/hyperjump/kioku/internal/models"
)

// Assemble selects a prefix of reranked results bounded by maxChunks and
// maxTokens. A chunk is included whole or not at all; the first result that
// would exceed either bound stops selection. Duplicate (dataset, ordinal)
// pairs are skipped. ContextUsed is false exactly when the bundle is empty.
func Assemble(reranked []*models.RetrievalResult, maxChunks, maxTokens int) *models.ContextBundle {
	bundle := &models.ContextBundle{}
	seen := make(map[[2]any]struct{}, len(reranked))
	for _, res := range reranked {
		if maxChunks > 0 && len(bundle.Items) >= maxChunks {
			break
		}
		key := [2]any{res.Chunk.DatasetID, res.Chunk.Ordinal}
		if _, dup := seen[key]; dup {
			continue
		}
		if maxTokens > 0 && bundle.TotalTokens+res.Chunk.TokenCount > maxTokens {
			break
		}
		seen[key] = struct{}{}
		bundle.Items = append(bundle.Items, models.ContextItem{
			DatasetID:   res.Chunk.DatasetID,
			DatasetName: res.DatasetName,
			Ordinal:     res.Chunk.Ordinal,
			Section:     res.Chunk.Section,
			Page:        res.Chunk.Page,
			Content:     res.Chunk.Content,
			TokenCount:  res.Chunk.TokenCount,
			Score:       res.Score,
		})
		bundle.TotalTokens += res.Chunk.TokenCount
	}
	bundle.ContextUsed = len(bundle.Items) > 0
	return bundle
}
