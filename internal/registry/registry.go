// Package registry provides the consumer/persona registry: which datasets a
// consumer may retrieve from, with what weight and access level.
package registry

import (
	"context"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// Registry reads and writes consumer-dataset links. The retrieval pipeline
// only reads; link management is exposed to the CLI and HTTP API.
type Registry struct {
	store storage.Store
}

// New creates a registry over the given store.
func New(store storage.Store) *Registry {
	return &Registry{store: store}
}

// GetLinks returns all links of a consumer, enabled or not.
func (r *Registry) GetLinks(ctx context.Context, consumerID string) ([]*models.ConsumerLink, error) {
	return r.store.GetLinks(ctx, consumerID)
}

// EnabledLinks returns only the enabled links of a consumer. The returned
// slice defines the retrieval scope for that consumer.
func (r *Registry) EnabledLinks(ctx context.Context, consumerID string) ([]*models.ConsumerLink, error) {
	links, err := r.store.GetLinks(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	enabled := links[:0:0]
	for _, link := range links {
		if link.Enabled {
			enabled = append(enabled, link)
		}
	}
	return enabled, nil
}

// GetSpecialtyTags returns the consumer's declared specialty tags. A missing
// consumer yields no tags rather than an error, so retrieval still works for
// callers that never registered a persona.
func (r *Registry) GetSpecialtyTags(ctx context.Context, consumerID string) ([]string, error) {
	c, err := r.store.GetConsumer(ctx, consumerID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return c.SpecialtyTags, nil
}

// SetLink creates or updates a link. Weight bounds are enforced by the store;
// out-of-range values are rejected at write time, never clamped.
func (r *Registry) SetLink(ctx context.Context, link *models.ConsumerLink) error {
	return r.store.SetLink(ctx, link)
}

// SetEnabled flips a link's enabled flag, preserving weight and access level.
func (r *Registry) SetEnabled(ctx context.Context, consumerID, datasetID string, enabled bool) error {
	link, err := r.store.GetLink(ctx, consumerID, datasetID)
	if err != nil {
		return err
	}
	link.Enabled = enabled
	return r.store.SetLink(ctx, link)
}

// TouchUsage records that the consumer's links to the given datasets were
// used at usedAt. Called after a bundle is assembled.
func (r *Registry) TouchUsage(ctx context.Context, consumerID string, datasetIDs []string, usedAt time.Time) error {
	for _, id := range datasetIDs {
		if err := r.store.TouchLink(ctx, consumerID, id, usedAt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertConsumer registers or updates a consumer and its specialty tags.
func (r *Registry) UpsertConsumer(ctx context.Context, c *models.Consumer) error {
	return r.store.UpsertConsumer(ctx, c)
}
