// Package embedder implements C3, the embedding adapters that turn
// query text into vectors for one configured embedding model. Each
// pipeline fans a query out across every model in its
// EmbeddingModels list, so Embedder implementations are built once per
// model spec and reused across requests.
package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Embedder converts text into vectors for a single configured model.
type Embedder interface {
	// Embed returns one vector per input text, in input order. An empty
	// texts slice returns (nil, nil) without making a call.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding width. Before the first successful
	// Embed call this may be a provider default; after, it reflects the
	// actually observed vector length.
	Dimension() int
	// Name identifies the adapter for logging and Chunk.Embedder tagging.
	Name() string
}

// New builds an Embedder from a "<provider>[:<model>]" spec, e.g.
// "openai:text-embedding-3-small" or "bge:bge-large-en". The provider
// determines request shape and response parsing; the model (when
// present) is passed through to the remote API.
//
// baseURL is the provider's endpoint and apiKey its credential. Either
// may be "" when not configured, in which case the adapter relies on the provider's own default or
// fails at call time.
func New(spec string, baseURL, apiKey string) (Embedder, error) {
	provider, model, _ := strings.Cut(spec, ":")
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, fmt.Errorf("embedder: empty provider in spec %q", spec)
	}

	switch provider {
	case "openai", "qwen":
		return newChatStyleEmbedder(provider, model, baseURL, apiKey), nil
	case "bge":
		return newBGEEmbedder(model, baseURL), nil
	case "api":
		return newAPIEmbedder(model, baseURL), nil
	default:
		return nil, fmt.Errorf("embedder: unknown provider %q", provider)
	}
}

func defaultDimension(provider, model string) int {
	switch provider {
	case "openai":
		switch {
		case strings.Contains(model, "3-small"):
			return 1536
		case strings.Contains(model, "3-large"):
			return 3072
		default:
			return 1536
		}
	case "qwen":
		return 1536
	case "bge":
		return 1024
	default:
		return 1024
	}
}
