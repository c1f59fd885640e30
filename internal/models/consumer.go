package models

import "time"

// AccessLevel controls how much of a dataset a consumer may receive.
type AccessLevel string

const (
	// AccessFull grants full chunk content.
	AccessFull AccessLevel = "full"
	// AccessSummary grants summarized content only.
	AccessSummary AccessLevel = "summary"
	// AccessReferenceOnly grants attribution without content.
	AccessReferenceOnly AccessLevel = "reference_only"
)

// Weight bounds for consumer links. Writes outside this range are rejected,
// never clamped.
const (
	MinLinkWeight = 0.1
	MaxLinkWeight = 2.0
)

// Consumer is a persona or other client of the retrieval pipeline.
type Consumer struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	SpecialtyTags []string  `json:"specialty_tags,omitempty" db:"-"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ConsumerLink relates a consumer to a dataset with weighting and access
// preferences. Many-to-many: a consumer may link any number of datasets and
// vice versa.
type ConsumerLink struct {
	ConsumerID  string      `json:"consumer_id" db:"consumer_id"`
	DatasetID   string      `json:"dataset_id" db:"dataset_id"`
	Enabled     bool        `json:"enabled" db:"enabled"`
	Weight      float64     `json:"weight" db:"weight"`
	AccessLevel AccessLevel `json:"access_level" db:"access_level"`
	UseCount    int64       `json:"use_count" db:"use_count"`
	LastUsedAt  time.Time   `json:"last_used_at,omitempty" db:"last_used_at"`
}

// ValidateWeight checks a link weight against the allowed range.
func ValidateWeight(w float64) error {
	if w < MinLinkWeight || w > MaxLinkWeight {
		return Validationf("link weight %.3f outside [%.1f, %.1f]", w, MinLinkWeight, MaxLinkWeight)
	}
	return nil
}
