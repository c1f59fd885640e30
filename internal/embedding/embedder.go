// Package embedding provides text embedding backends (local ONNX and cloud API) behind one interface.
package embedding

import (
	"context"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// Embedder produces fixed-length vector embeddings for text. Implementations
// are constructed once and injected into the pipeline; the backend for a
// dataset is chosen at creation time and reused for every chunk in it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelID identifies the underlying model, recorded on datasets to
	// enforce dimensional consistency.
	ModelID() string
	Close() error
}

// validateInput rejects empty or whitespace-only text. A zero vector is never
// substituted; the caller decides whether to skip or flag the chunk.
func validateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return models.Validationf("cannot embed empty text")
	}
	return nil
}

// batchViaEmbed implements EmbedBatch by calling embed once per text in order.
func batchViaEmbed(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
