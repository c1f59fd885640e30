package ranking

import (
	"sort"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Reranker applies the multiplier chain to retrieval results and re-sorts
// them. It is a pure function of its inputs: no hidden state, deterministic,
// unit-testable in isolation.
type Reranker struct {
	config      *Config
	multipliers []Multiplier
}

// NewReranker creates a reranker with the standard multiplier chain. The
// order is fixed for reproducibility: specialty, tag overlap, recency, link
// weight.
func NewReranker(config *Config) *Reranker {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()
	return &Reranker{
		config: config,
		multipliers: []Multiplier{
			NewSpecialtyMultiplier(config),
			NewTagOverlapMultiplier(config),
			NewRecencyMultiplier(config),
			NewLinkWeightMultiplier(),
		},
	}
}

// Rerank adjusts each result's score from its base similarity and re-sorts
// descending by adjusted score. Ties break by ascending dataset id then
// ascending ordinal, the same rule the retrieval engine uses, so equal scores
// keep their original order. The input slice is not modified; the returned
// slice has the same length as the input.
func (r *Reranker) Rerank(results []*models.RetrievalResult, rctx *Context) []*models.RetrievalResult {
	if rctx == nil {
		rctx = &Context{}
	}
	if rctx.Now == 0 {
		rctx.Now = time.Now().Unix()
	}
	out := make([]*models.RetrievalResult, len(results))
	for i, res := range results {
		adjusted := *res
		score := res.BaseScore
		for _, m := range r.multipliers {
			score = m.Multiply(rctx, &adjusted, score)
		}
		adjusted.Score = score
		out[i] = &adjusted
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.DatasetID != out[j].Chunk.DatasetID {
			return out[i].Chunk.DatasetID < out[j].Chunk.DatasetID
		}
		return out[i].Chunk.Ordinal < out[j].Chunk.Ordinal
	})
	return out
}
