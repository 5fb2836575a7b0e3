// Package cache implements C8: a bounded LRU of built orchestrators,
// one per pipeline name, so a hot pipeline's embedders/reranker/filter
// are constructed once and reused across requests instead of rebuilt
// on every call. Entries are evicted whenever the backing pipeline
// configuration changes, via Store.OnInvalidate.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/embedder"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/llmfilter"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/orchestrator"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/pool"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/reranker"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/vectorstore"
)

// ConfigGetter is the narrow slice of pipelineconfig.Store the cache
// needs, letting tests substitute a fake config source.
type ConfigGetter interface {
	Get(ctx context.Context, name string) (pipelineconfig.PipelineConfig, error)
}

// Cache builds and caches one Orchestrator per pipeline name.
type Cache struct {
	store  ConfigGetter
	pool   *pool.Pool
	logger *slog.Logger

	mu    sync.Mutex
	inner *lru.Cache[string, *orchestrator.Orchestrator]
}

// New builds a Cache bounded to size entries, backed by the given
// config store and Milvus connection pool.
func New(size int, store ConfigGetter, p *pool.Pool, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 64
	}
	inner, err := lru.New[string, *orchestrator.Orchestrator](size)
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	return &Cache{store: store, pool: p, logger: logger, inner: inner}, nil
}

// Get returns the cached Orchestrator for name, building and caching it
// on a miss. An empty name resolves through the config store's default
// pipeline, exactly like pipelineconfig.Store.Get.
func (c *Cache) Get(ctx context.Context, name string) (*orchestrator.Orchestrator, error) {
	cfg, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if orch, ok := c.inner.Get(cfg.Name); ok {
		return orch, nil
	}

	orch, err := c.build(cfg)
	if err != nil {
		return nil, err
	}
	c.inner.Add(cfg.Name, orch)
	c.logger.Info("orchestrator built and cached", "pipeline", cfg.Name)
	return orch, nil
}

// Invalidate evicts the cached orchestrator for name, or every entry
// when name is "". Wired to pipelineconfig.Store.OnInvalidate so a
// config write never leaves a stale orchestrator serving requests.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		c.inner.Purge()
		c.logger.Info("orchestrator cache purged")
		return
	}
	c.inner.Remove(name)
	c.logger.Info("orchestrator cache entry invalidated", "pipeline", name)
}

// Close releases every resource held by cached orchestrators, namely
// the shared Milvus connections.
func (c *Cache) Close() {
	c.pool.CloseAll()
}

func (c *Cache) build(cfg pipelineconfig.PipelineConfig) (*orchestrator.Orchestrator, error) {
	embedders := make([]embedder.Embedder, 0, len(cfg.EmbeddingModels))
	for _, spec := range cfg.EmbeddingModels {
		e, err := embedder.New(spec, baseURLForSpec(spec), apiKeyForSpec(spec))
		if err != nil {
			return nil, fmt.Errorf("cache: build embedder %q for pipeline %q: %w", spec, cfg.Name, err)
		}
		embedders = append(embedders, e)
	}

	store := vectorstore.New(c.pool, c.logger)
	rr := reranker.New(cfg.Rerank, c.logger)
	lf := llmfilter.New(cfg.LLMFilter, cfg.Timeouts.LLMFilter, c.logger)

	return orchestrator.New(cfg, embedders, store, rr, lf, c.logger), nil
}

// baseURLForSpec and apiKeyForSpec source embedder endpoints and
// credentials from the process environment, mirroring
// utils/embedders.py's create_embedder, which never stores API keys in
// the pipeline YAML.
func baseURLForSpec(spec string) string {
	provider, _, _ := cutProvider(spec)
	switch provider {
	case "openai":
		return envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")
	case "qwen":
		return envOr("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	case "bge":
		return os.Getenv("BGE_API_URL")
	case "api":
		return os.Getenv("EMBEDDER_API_URL")
	default:
		return ""
	}
}

func apiKeyForSpec(spec string) string {
	provider, _, _ := cutProvider(spec)
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "qwen":
		return firstNonEmpty(os.Getenv("DASHSCOPE_API_KEY"), os.Getenv("QWEN_API_KEY"))
	default:
		return ""
	}
}

func cutProvider(spec string) (provider, model string, found bool) {
	provider, model, found = strings.Cut(spec, ":")
	return strings.ToLower(strings.TrimSpace(provider)), model, found
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
