//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("local embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// LocalEmbedder stub type when built without CGO (see local.go for the real implementation).
type LocalEmbedder struct{}

// NewLocalEmbedder returns an error when built without CGO (ONNX not available).
func NewLocalEmbedder(_, _ string, _, _ int) (*LocalEmbedder, error) {
	return nil, errNoCGO
}

func (e *LocalEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }
func (e *LocalEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}
func (e *LocalEmbedder) Dimensions() int { return 0 }
func (e *LocalEmbedder) ModelID() string { return "" }
func (e *LocalEmbedder) Close() error    { return nil }
