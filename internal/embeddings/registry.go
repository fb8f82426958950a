package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// Registry resolves configured model names to providers. Providers are
// created lazily and cached per process.
type Registry struct {
	cfg    config.EmbeddingsConfig
	client *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry builds a registry over the configured models. client is
// used for api-type models.
func NewRegistry(cfg config.EmbeddingsConfig, client *http.Client, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		client:    client,
		logger:    logger.Named("embeddings"),
		providers: make(map[string]Provider),
	}
}

// Models returns the configured model registry.
func (r *Registry) Models() []config.ModelConfig {
	return r.cfg.Models
}

// DimensionOf returns the declared output dimension for the model.
func (r *Registry) DimensionOf(name string) (int, error) {
	m, ok := r.lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m.Dimension, nil
}

// PathOf returns the local model path for the model; empty for
// api-type models.
func (r *Registry) PathOf(name string) (string, error) {
	m, ok := r.lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m.ModelPath, nil
}

// Encode embeds a batch of texts with the named model.
func (r *Registry) Encode(ctx context.Context, name string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	p, err := r.provider(name)
	if err != nil {
		return nil, err
	}
	vectors, err := p.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: model %s returned %d vectors for %d texts",
			ErrEmbeddingFailed, name, len(vectors), len(texts))
	}
	return vectors, nil
}

// EncodeQuery embeds a single query string with the named model.
func (r *Registry) EncodeQuery(ctx context.Context, name, text string) ([]float32, error) {
	p, err := r.provider(name)
	if err != nil {
		return nil, err
	}
	return p.EmbedQuery(ctx, text)
}

// Close releases every cached provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("embeddings: closing provider %s: %w", name, err)
		}
		delete(r.providers, name)
	}
	return firstErr
}

func (r *Registry) lookup(name string) (config.ModelConfig, bool) {
	for _, m := range r.cfg.Models {
		if m.Name == name {
			return m, true
		}
	}
	return config.ModelConfig{}, false
}

func (r *Registry) provider(name string) (Provider, error) {
	m, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if !m.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrModelDisabled, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, cached := r.providers[name]; cached {
		return p, nil
	}

	var (
		p   Provider
		err error
	)
	switch m.Type {
	case "local":
		p, err = newLocalProvider(m, r.cfg.CacheDir)
	case "api":
		p, err = newAPIProvider(m, r.client)
	default:
		err = fmt.Errorf("%w: model %s has type %q", ErrInvalidConfig, name, m.Type)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("embedding provider initialized",
		zap.String("model", name),
		zap.String("type", m.Type),
		zap.Int("dimension", m.Dimension))
	r.providers[name] = p
	return p, nil
}
