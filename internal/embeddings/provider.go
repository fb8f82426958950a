// Package embeddings provides embedding generation via configured
// local and remote models.
package embeddings

import (
	"context"
	"errors"
)

// Provider generates embeddings for one configured model.
type Provider interface {
	// EmbedDocuments generates embeddings for a batch of texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension of the model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

var (
	// ErrUnknownModel indicates the model is not configured.
	ErrUnknownModel = errors.New("embeddings: unknown model")
	// ErrModelDisabled indicates the model is configured but disabled.
	ErrModelDisabled = errors.New("embeddings: model disabled")
	// ErrInvalidConfig indicates the provider configuration is invalid.
	ErrInvalidConfig = errors.New("embeddings: invalid config")
	// ErrEmptyInput indicates an empty text batch.
	ErrEmptyInput = errors.New("embeddings: empty input")
	// ErrEmbeddingFailed indicates the underlying model call failed.
	ErrEmbeddingFailed = errors.New("embeddings: embedding failed")
)
