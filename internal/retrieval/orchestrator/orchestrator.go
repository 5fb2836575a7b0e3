// Package orchestrator implements C7: the six-stage retrieval pipeline
// that fans a query out across every configured embedding model,
// searches the vector store per model, merges and deduplicates the
// results, reranks, LLM-filters, and truncates to the pipeline's
// final_top_k.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/embedder"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/llmfilter"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/reranker"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/vectorstore"
)

// Searcher is the narrow vector-store capability the orchestrator
// needs, letting tests substitute a fake without touching Milvus.
type Searcher interface {
	Search(ctx context.Context, cfg pipelineconfig.MilvusConfig, vector []float32, limit int) []vectorstore.Hit
}

// Debug carries the intermediate result of each stage, populated only
// when the caller asked for a debug retrieval.
type Debug struct {
	PerEmbedder  map[string][]retrieval.Chunk `json:"per_embedder"`
	Deduplicated []retrieval.Chunk            `json:"deduplicated"`
	Reranked     []retrieval.Chunk            `json:"reranked"`
	Filtered     []retrieval.Chunk            `json:"filtered"`
}

// Result is the outcome of a single Retrieve call.
type Result struct {
	Chunks []retrieval.Chunk
	Debug  *Debug
}

// Orchestrator runs the retrieval pipeline for one pipeline configuration.
type Orchestrator struct {
	cfg        pipelineconfig.PipelineConfig
	embedders  []embedder.Embedder
	store      Searcher
	reranker   reranker.Reranker
	filter     llmfilter.Filter
	logger     *slog.Logger
}

// New builds an Orchestrator wired for a single pipeline configuration.
func New(cfg pipelineconfig.PipelineConfig, embedders []embedder.Embedder, store Searcher, rr reranker.Reranker, lf llmfilter.Filter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, embedders: embedders, store: store, reranker: rr, filter: lf, logger: logger}
}

// Retrieve runs the full pipeline for a query. When debug is true, Result.Debug
// is populated with the intermediate output of every stage.
func (o *Orchestrator) Retrieve(ctx context.Context, queryText string, debug bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	perEmbedder, err := o.embedAndSearch(ctx, queryText)
	if err != nil {
		return Result{}, err
	}

	merged := mergeAndDedup(o.cfg, perEmbedder)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	reranked := o.reranker.Rerank(ctx, queryText, merged, o.cfg.ChunkSizes.RerankInput)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	rerankInput := truncate(reranked, o.cfg.ChunkSizes.RerankInput)
	filterInput := truncate(rerankInput, o.cfg.ChunkSizes.LLMFilterInput)
	filtered := o.filter.Filter(ctx, queryText, filterInput, o.cfg.ChunkSizes.LLMFilterInput)

	final := truncate(filtered, o.cfg.Retrieval.FinalTopK)

	result := Result{Chunks: final}
	if debug {
		flatPerEmbedder := make(map[string][]retrieval.Chunk, len(perEmbedder))
		for name, chunks := range perEmbedder {
			flatPerEmbedder[name] = chunks
		}
		result.Debug = &Debug{
			PerEmbedder:  flatPerEmbedder,
			Deduplicated: merged,
			Reranked:     reranked,
			Filtered:     filtered,
		}
	}
	return result, nil
}

// embedAndSearch fans the query out across every configured embedder,
// running the embed call and the subsequent vector search for each in
// its own goroutine. A single embedder's failure is logged and
// contributes zero chunks; the whole call only fails if every embedder
// failed, matching spec.md's per-embedder degradation rule. Results are
// keyed by the configured model spec at the embedder's position (the
// embedder's Name when there is no such entry), which is what
// mergeAndDedup looks up.
func (o *Orchestrator) embedAndSearch(ctx context.Context, queryText string) (map[string][]retrieval.Chunk, error) {
	results := make(map[string][]retrieval.Chunk, len(o.embedders))
	var mu sync.Mutex
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range o.embedders {
		e := e
		key := e.Name()
		if i < len(o.cfg.EmbeddingModels) {
			key = o.cfg.EmbeddingModels[i]
		}
		g.Go(func() error {
			embedCtx, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.Embedder)
			defer cancel()

			vectors, err := e.Embed(embedCtx, []string{queryText})
			if err != nil || len(vectors) == 0 {
				o.logger.Warn("embedder failed, contributing zero results", "embedder", e.Name(), "error", err)
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}

			searchCtx, searchCancel := context.WithTimeout(gctx, o.cfg.Timeouts.VectorSearch)
			defer searchCancel()
			hits := o.store.Search(searchCtx, o.cfg.Milvus, vectors[0], o.cfg.Retrieval.TopKPerModel)

			chunks := make([]retrieval.Chunk, len(hits))
			for i, h := range hits {
				distance := h.Distance
				chunks[i] = retrieval.Chunk{ChunkID: h.ID, Text: h.Text, Score: &distance, Embedder: e.Name()}
			}
			sort.SliceStable(chunks, func(i, j int) bool { return *chunks[i].Score < *chunks[j].Score })

			mu.Lock()
			results[key] = chunks
			mu.Unlock()
			return nil
		})
	}
	// errgroup.Wait never returns an error here; every goroutine
	// absorbs its own failure so one embedder never cancels its siblings.
	_ = g.Wait()

	if failures == len(o.embedders) && len(o.embedders) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &AllEmbeddersFailedError{}
	}
	return results, nil
}

// mergeAndDedup combines every embedder's chunks in configured-embedder
// order, keeping the lowest-scored occurrence of each chunk ID (ties
// broken by first occurrence, then ascending chunk ID), and truncates
// to initial_search.
func mergeAndDedup(cfg pipelineconfig.PipelineConfig, perEmbedder map[string][]retrieval.Chunk) []retrieval.Chunk {
	best := make(map[int64]retrieval.Chunk)
	var order []int64

	for _, model := range cfg.EmbeddingModels {
		for _, c := range perEmbedder[model] {
			existing, ok := best[c.ChunkID]
			if !ok {
				best[c.ChunkID] = c
				order = append(order, c.ChunkID)
				continue
			}
			if c.Score != nil && (existing.Score == nil || *c.Score < *existing.Score) {
				best[c.ChunkID] = c
			}
		}
	}

	merged := make([]retrieval.Chunk, 0, len(order))
	for _, id := range order {
		merged = append(merged, best[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		si, sj := merged[i].Score, merged[j].Score
		if si == nil || sj == nil || *si == *sj {
			return merged[i].ChunkID < merged[j].ChunkID
		}
		return *si < *sj
	})

	return truncate(merged, cfg.ChunkSizes.InitialSearch)
}

func truncate(chunks []retrieval.Chunk, n int) []retrieval.Chunk {
	if n <= 0 || n >= len(chunks) {
		return chunks
	}
	return chunks[:n]
}

// AllEmbeddersFailedError is returned when every configured embedder
// failed to produce a vector for the query.
type AllEmbeddersFailedError struct{}

func (e *AllEmbeddersFailedError) Error() string {
	return "all configured embedders failed for this query"
}
