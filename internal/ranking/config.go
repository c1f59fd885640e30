// Package ranking adjusts base similarity scores with contextual signals
// before final ordering.
package ranking

import "time"

// Config holds the reranking multipliers. The defaults are the contract the
// rest of the system is tested against; they are heuristic constants and are
// exposed as configuration rather than hard-coded.
type Config struct {
	// SpecialtyMultiplier applies when chunk tags intersect the consumer's
	// specialty tags.
	SpecialtyMultiplier float64 `yaml:"specialty_multiplier"` // default: 1.2
	// TagOverlapWeight scales the query-intent tag overlap ratio:
	// score *= 1 + ratio*TagOverlapWeight.
	TagOverlapWeight float64 `yaml:"tag_overlap_weight"` // default: 0.3
	// RecencyMultiplier applies when the consumer used this link within
	// RecencyWindow.
	RecencyMultiplier float64 `yaml:"recency_multiplier"` // default: 1.1
	// RecencyWindowHours is the lookback window for the recency boost.
	RecencyWindowHours int `yaml:"recency_window_hours"` // default: 24
}

// DefaultConfig returns the default reranking configuration.
func DefaultConfig() *Config {
	return &Config{
		SpecialtyMultiplier: 1.2,
		TagOverlapWeight:    0.3,
		RecencyMultiplier:   1.1,
		RecencyWindowHours:  24,
	}
}

// ApplyDefaults fills zero values in cfg from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.SpecialtyMultiplier == 0 {
		c.SpecialtyMultiplier = d.SpecialtyMultiplier
	}
	if c.TagOverlapWeight == 0 {
		c.TagOverlapWeight = d.TagOverlapWeight
	}
	if c.RecencyMultiplier == 0 {
		c.RecencyMultiplier = d.RecencyMultiplier
	}
	if c.RecencyWindowHours == 0 {
		c.RecencyWindowHours = d.RecencyWindowHours
	}
}

// RecencyWindow returns the recency lookback as a duration.
func (c *Config) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyWindowHours) * time.Hour
}
