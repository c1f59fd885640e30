package models

// RetrievalResult is a single retrieval candidate. BaseScore is the raw
// cosine similarity; Score is the reranked score (equal to BaseScore until
// reranking runs). Link carries the consumer-link context used for reranking
// and may be nil when the query was not made on behalf of a consumer.
type RetrievalResult struct {
	Chunk       *Chunk        `json:"chunk"`
	DatasetName string        `json:"dataset_name"`
	BaseScore   float64       `json:"base_score"`
	Score       float64       `json:"score"`
	Link        *ConsumerLink `json:"-"`
}

// ContextItem is one attributed entry of a context bundle.
type ContextItem struct {
	DatasetID   string  `json:"dataset_id"`
	DatasetName string  `json:"dataset_name"`
	Ordinal     int     `json:"ordinal"`
	Section     string  `json:"section,omitempty"`
	Page        int     `json:"page,omitempty"`
	Content     string  `json:"content"`
	TokenCount  int     `json:"token_count"`
	Score       float64 `json:"score"`
}

// ContextBundle is the final bounded, attributed set of chunks handed to the
// generation layer. ContextUsed is false exactly when Items is empty, so
// callers never have to infer emptiness from a nil slice.
type ContextBundle struct {
	Items       []ContextItem `json:"items"`
	TotalTokens int           `json:"total_tokens"`
	ContextUsed bool          `json:"context_used"`
}
