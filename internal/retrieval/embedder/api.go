package embedder

import (
	"context"
	"fmt"
)

// apiEmbedder is grounded on api_embedder.py: a generic {texts} POST
// against any HTTP embedding service, with the response shape sniffed
// by parseEmbeddingsResponse.
type apiEmbedder struct {
	model   string
	baseURL string
	dim     *dimensionCache
}

func newAPIEmbedder(model, baseURL string) *apiEmbedder {
	if model == "" {
		model = "unknown"
	}
	dim := &dimensionCache{}
	dim.setDefault(1024)
	return &apiEmbedder{model: model, baseURL: baseURL, dim: dim}
}

func (e *apiEmbedder) Name() string   { return "api:" + e.model }
func (e *apiEmbedder) Dimension() int { return e.dim.get() }

func (e *apiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.baseURL == "" {
		return nil, fmt.Errorf("api embedder %q: no endpoint configured", e.model)
	}

	body, err := postJSON(ctx, e.baseURL, nil, map[string]interface{}{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("api embedder: %w", err)
	}

	vectors, err := parseEmbeddingsResponse(body)
	if err != nil {
		return nil, err
	}
	if len(vectors) > 0 {
		e.dim.observe(len(vectors[0]))
	}
	return vectors, nil
}
