package ranking

import (
	"github.com/hyperjump/kioku/internal/models"
)

// Context carries the contextual signals for one rerank pass: the requesting
// consumer's specialty tags, the query-intent tags, and the evaluation time.
// Per-result signals (link weight, last-used time) travel on the result itself.
type Context struct {
	SpecialtyTags []string
	IntentTags    []string
	Now           int64 // unix seconds; fixed per pass for reproducibility
}

// Multiplier is one step of the score-adjustment chain.
type Multiplier interface {
	Name() string
	Multiply(rctx *Context, res *models.RetrievalResult, score float64) float64
}

// SpecialtyMultiplier boosts chunks whose tag set intersects the consumer's
// declared specialty tags.
type SpecialtyMultiplier struct {
	config *Config
}

// NewSpecialtyMultiplier creates a SpecialtyMultiplier.
func NewSpecialtyMultiplier(config *Config) *SpecialtyMultiplier {
	return &SpecialtyMultiplier{config: config}
}

// Name returns the multiplier name.
func (m *SpecialtyMultiplier) Name() string {
	return "specialty"
}

// Multiply applies the specialty boost when any chunk tag matches a specialty tag.
func (m *SpecialtyMultiplier) Multiply(rctx *Context, res *models.RetrievalResult, score float64) float64 {
	if score == 0 || len(rctx.SpecialtyTags) == 0 {
		return score
	}
	if intersects(res.Chunk.Tags, rctx.SpecialtyTags) {
		return score * m.config.SpecialtyMultiplier
	}
	return score
}

// TagOverlapMultiplier scales the score by the fraction of query-intent tags
// found on the chunk: score *= 1 + ratio*TagOverlapWeight.
type TagOverlapMultiplier struct {
	config *Config
}

// NewTagOverlapMultiplier creates a TagOverlapMultiplier.
func NewTagOverlapMultiplier(config *Config) *TagOverlapMultiplier {
	return &TagOverlapMultiplier{config: config}
}

// Name returns the multiplier name.
func (m *TagOverlapMultiplier) Name() string {
	return "tag_overlap"
}

// Multiply applies the intent-tag overlap boost.
func (m *TagOverlapMultiplier) Multiply(rctx *Context, res *models.RetrievalResult, score float64) float64 {
	if score == 0 {
		return score
	}
	ratio := overlapRatio(res.Chunk.Tags, rctx.IntentTags)
	return score * (1 + ratio*m.config.TagOverlapWeight)
}

// RecencyMultiplier boosts chunks from datasets this consumer used within the
// configured window.
type RecencyMultiplier struct {
	config *Config
}

// NewRecencyMultiplier creates a RecencyMultiplier.
func NewRecencyMultiplier(config *Config) *RecencyMultiplier {
	return &RecencyMultiplier{config: config}
}

// Name returns the multiplier name.
func (m *RecencyMultiplier) Name() string {
	return "recency"
}

// Multiply applies the recency boost based on the link's last-used timestamp.
func (m *RecencyMultiplier) Multiply(rctx *Context, res *models.RetrievalResult, score float64) float64 {
	if score == 0 || res.Link == nil || res.Link.LastUsedAt.IsZero() {
		return score
	}
	age := rctx.Now - res.Link.LastUsedAt.Unix()
	if age >= 0 && age < int64(m.config.RecencyWindow().Seconds()) {
		return score * m.config.RecencyMultiplier
	}
	return score
}

// LinkWeightMultiplier applies the consumer-assigned dataset weight, already
// bounded to [0.1, 2.0] at write time.
type LinkWeightMultiplier struct{}

// NewLinkWeightMultiplier creates a LinkWeightMultiplier.
func NewLinkWeightMultiplier() *LinkWeightMultiplier {
	return &LinkWeightMultiplier{}
}

// Name returns the multiplier name.
func (m *LinkWeightMultiplier) Name() string {
	return "link_weight"
}

// Multiply applies the link weight. Results without link context are unchanged.
func (m *LinkWeightMultiplier) Multiply(rctx *Context, res *models.RetrievalResult, score float64) float64 {
	if res.Link == nil {
		return score
	}
	return score * res.Link.Weight
}

// intersects reports whether a and b share at least one element.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

// overlapRatio returns |chunkTags ∩ intentTags| / max(1, |intentTags|).
func overlapRatio(chunkTags, intentTags []string) float64 {
	if len(intentTags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(chunkTags))
	for _, s := range chunkTags {
		set[s] = struct{}{}
	}
	matched := 0
	for _, s := range intentTags {
		if _, ok := set[s]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(intentTags))
}
