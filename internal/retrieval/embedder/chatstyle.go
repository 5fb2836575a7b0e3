package embedder

import (
	"context"
	"fmt"
)

// chatStyleEmbedder talks to an OpenAI-compatible /embeddings endpoint,
// grounded on openai_embedder.py and qwen_embedder.py: POST
// {model, input} and read data[].embedding back in request order.
type chatStyleEmbedder struct {
	provider string
	model    string
	baseURL  string
	apiKey   string
	dim      *dimensionCache
}

func newChatStyleEmbedder(provider, model, baseURL, apiKey string) *chatStyleEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	dim := &dimensionCache{}
	dim.setDefault(defaultDimension(provider, model))
	return &chatStyleEmbedder{provider: provider, model: model, baseURL: baseURL, apiKey: apiKey, dim: dim}
}

func (e *chatStyleEmbedder) Name() string { return fmt.Sprintf("%s:%s", e.provider, e.model) }

func (e *chatStyleEmbedder) Dimension() int { return e.dim.get() }

func (e *chatStyleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	body, err := postJSON(ctx, e.baseURL+"/embeddings", headers, map[string]interface{}{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, err
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
