package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// CloudEmbedder calls an OpenAI-compatible /v1/embeddings endpoint. Network
// and 5xx failures surface as BackendUnavailableError so the ingestion
// pipeline can retry with backoff; the client itself does not retry.
type CloudEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	// dimensions is lazily set from the first response when not configured;
	// guarded because retrieval and ingestion share one embedder.
	dimMu      sync.Mutex
	dimensions int
}

// CloudConfig configures the cloud embedder.
type CloudConfig struct {
	// BaseURL of the embeddings API; defaults to the OpenAI endpoint.
	BaseURL string
	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string
	// Model is the embedding model identity (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the expected vector dimensionality.
	Dimensions int
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// NewCloudEmbedder creates a cloud embedder from cfg.
func NewCloudEmbedder(cfg CloudConfig) (*CloudEmbedder, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CloudEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for a single text.
func (c *CloudEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends one request for all texts and returns vectors in input order.
func (c *CloudEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if err := validateInput(text); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.BackendUnavailableError{Backend: "cloud", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &models.BackendUnavailableError{
			Backend: "cloud",
			Err:     fmt.Errorf("embeddings API returned %s", resp.Status),
		}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings API returned %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.BackendUnavailableError{Backend: "cloud", Err: err}
	}
	var parsed embeddingsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for i, f := range item.Embedding {
			vec[i] = float32(f)
		}
		out[item.Index] = vec
	}
	want := c.establishDimensions(len(out[0]))
	for _, vec := range out {
		if len(vec) != want {
			return nil, &models.DimensionMismatchError{Got: len(vec), Want: want}
		}
	}
	return out, nil
}

// establishDimensions records the dimensionality from the first response when
// none was configured and returns the authoritative value.
func (c *CloudEmbedder) establishDimensions(got int) int {
	c.dimMu.Lock()
	defer c.dimMu.Unlock()
	if c.dimensions == 0 {
		c.dimensions = got
	}
	return c.dimensions
}

// Dimensions returns the vector dimensionality (0 until the first successful call
// when not configured).
func (c *CloudEmbedder) Dimensions() int {
	c.dimMu.Lock()
	defer c.dimMu.Unlock()
	return c.dimensions
}

// ModelID returns the configured model identity.
func (c *CloudEmbedder) ModelID() string {
	return c.model
}

// Close is a no-op for CloudEmbedder.
func (c *CloudEmbedder) Close() error {
	return nil
}
