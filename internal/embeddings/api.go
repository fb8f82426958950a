package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

const defaultAPIBody = `{"input": {documents}}`

// apiProvider calls a remote embedding endpoint. The configured body
// template is POSTed with the {documents} placeholder substituted by
// the JSON-encoded input texts; the result is read from a dotted path
// into the response.
type apiProvider struct {
	name       string
	url        string
	headers    map[string]string
	body       string
	resultPath string
	dimension  int
	client     *http.Client
}

func newAPIProvider(cfg config.ModelConfig, client *http.Client) (*apiProvider, error) {
	if cfg.APIConfig == nil || cfg.APIConfig.URL == "" {
		return nil, fmt.Errorf("%w: model %s has no api url", ErrInvalidConfig, cfg.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}
	body := cfg.APIConfig.Body
	if body == "" {
		body = defaultAPIBody
	}
	resultPath := cfg.APIConfig.ResultPath
	if resultPath == "" {
		return nil, fmt.Errorf("%w: model %s has no resultPath", ErrInvalidConfig, cfg.Name)
	}
	return &apiProvider{
		name:       cfg.Name,
		url:        cfg.APIConfig.URL,
		headers:    cfg.APIConfig.Headers,
		body:       body,
		resultPath: resultPath,
		dimension:  cfg.Dimension,
		client:     client,
	}, nil
}

func (p *apiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	docs, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("embeddings: encoding texts: %w", err)
	}
	body := strings.ReplaceAll(p.body, "{documents}", string(docs))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("embeddings: building request for %s: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling %s: %v", ErrEmbeddingFailed, p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %v", ErrEmbeddingFailed, p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d: %s",
			ErrEmbeddingFailed, p.name, resp.StatusCode, truncate(string(raw), 256))
	}

	return p.parseVectors(raw, len(texts))
}

func (p *apiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// parseVectors reads the configured result path and validates the
// shape: a list of equal-length float vectors, one per input text.
func (p *apiProvider) parseVectors(raw []byte, want int) ([][]float32, error) {
	result := gjson.GetBytes(raw, p.resultPath)
	if !result.Exists() || !result.IsArray() {
		return nil, fmt.Errorf("%w: %s response has no array at %q",
			ErrEmbeddingFailed, p.name, p.resultPath)
	}

	rows := result.Array()
	if len(rows) != want {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
			ErrEmbeddingFailed, p.name, len(rows), want)
	}

	vectors := make([][]float32, len(rows))
	for i, row := range rows {
		if !row.IsArray() {
			return nil, fmt.Errorf("%w: %s result row %d is not a vector", ErrEmbeddingFailed, p.name, i)
		}
		values := row.Array()
		if p.dimension > 0 && len(values) != p.dimension {
			return nil, fmt.Errorf("%w: %s returned dimension %d, expected %d",
				ErrEmbeddingFailed, p.name, len(values), p.dimension)
		}
		vec := make([]float32, len(values))
		for j, v := range values {
			if v.Type != gjson.Number {
				return nil, fmt.Errorf("%w: %s result row %d has a non-numeric entry", ErrEmbeddingFailed, p.name, i)
			}
			vec[j] = float32(v.Float())
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (p *apiProvider) Dimension() int { return p.dimension }

func (p *apiProvider) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
