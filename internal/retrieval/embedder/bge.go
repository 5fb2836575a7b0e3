package embedder

import (
	"context"
	"fmt"
	"strings"
)

// bgeEmbedder is grounded on bge_embedder.py: the endpoint is chosen by
// substring of the model name (English/Chinese BGE variants route to
// dedicated endpoints; anything else falls back to a generic /embed).
type bgeEmbedder struct {
	model   string
	baseURL string
	dim     *dimensionCache
}

func newBGEEmbedder(model, baseURL string) *bgeEmbedder {
	if model == "" {
		model = "BAAI/bge-large-en-v1.5"
	}
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	dim := &dimensionCache{}
	dim.setDefault(bgeDimensionFor(model))
	return &bgeEmbedder{model: model, baseURL: baseURL, dim: dim}
}

func bgeDimensionFor(model string) int {
	switch model {
	case "BAAI/bge-large-en-v1.5":
		return 1024
	case "BAAI/bge-base-en-v1.5":
		return 768
	case "BAAI/bge-small-en-v1.5":
		return 384
	default:
		return 1024
	}
}

func (e *bgeEmbedder) Name() string   { return "bge:" + e.model }
func (e *bgeEmbedder) Dimension() int { return e.dim.get() }

func (e *bgeEmbedder) endpoint() string {
	modelLower := strings.ToLower(e.model)
	switch {
	case strings.Contains(modelLower, "bge-large-en"), strings.Contains(modelLower, "bge-base-en"), strings.Contains(modelLower, "bge-small-en"):
		return e.baseURL + "/embed/en"
	case strings.Contains(modelLower, "bge-large-zh"), strings.Contains(modelLower, "bge-base-zh"), strings.Contains(modelLower, "bge-small-zh"):
		return e.baseURL + "/embed/zh"
	default:
		return e.baseURL + "/embed"
	}
}

func (e *bgeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := postJSON(ctx, e.endpoint(), nil, map[string]interface{}{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("bge embedder: %w", err)
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
