// Package validator implements C9, grounded on config_validator.py's
// ConfigValidator. It checks the structural invariants of a pipeline
// configuration and, optionally, the reachability of Milvus and the
// reranker. The LLM filter endpoint is not probed.
package validator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/embedder"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/pool"
)

// Result reports per-field validation errors, keyed the way the admin
// API returns them to a caller fixing a broken pipeline definition.
type Result struct {
	OK      bool              `json:"ok"`
	Details map[string]string `json:"details,omitempty"`
}

// Validator checks one pipeline configuration at a time.
type Validator struct {
	pool       *pool.Pool
	httpClient *http.Client
}

// New builds a Validator. The pool is used for live Milvus reachability
// checks; a nil pool skips that check (treated as "not verified", not
// as an error, since connectivity checks are best-effort diagnostics).
func New(p *pool.Pool) *Validator {
	return &Validator{pool: p, httpClient: &http.Client{Timeout: 5 * time.Second}}
}

// ValidateFile validates every pipeline in file, plus the default pointer.
func (v *Validator) ValidateFile(ctx context.Context, file pipelineconfig.PipelinesFile, checkConnectivity bool) Result {
	details := make(map[string]string)

	if file.Default == "" {
		details["default"] = "default pipeline name is required"
	} else if _, ok := file.Pipelines[file.Default]; !ok {
		details["default"] = fmt.Sprintf("default pipeline %q not found in pipelines", file.Default)
	}

	for name, cfg := range file.Pipelines {
		result := v.ValidatePipeline(ctx, cfg, checkConnectivity)
		if !result.OK {
			for field, msg := range result.Details {
				details[name+"."+field] = msg
			}
		}
	}

	return Result{OK: len(details) == 0, Details: details}
}

// ValidatePipeline validates a single pipeline configuration. When
// checkConnectivity is true, it also probes Milvus and the rerank
// endpoint over the network; structural checks always run.
func (v *Validator) ValidatePipeline(ctx context.Context, cfg pipelineconfig.PipelineConfig, checkConnectivity bool) Result {
	details := make(map[string]string)

	if len(cfg.EmbeddingModels) == 0 {
		details["embedding_models"] = "at least one embedding model is required"
	}
	for _, spec := range cfg.EmbeddingModels {
		if _, err := embedder.New(spec, "", ""); err != nil {
			details["embedding_models"] = err.Error()
			break
		}
	}

	if err := v.validateMilvus(ctx, cfg.Milvus, checkConnectivity); err != "" {
		details["milvus"] = err
	}
	if err := v.validateRerank(ctx, cfg.Rerank, checkConnectivity); err != "" {
		details["rerank"] = err
	}
	if err := validateLLMFilter(cfg.LLMFilter); err != "" {
		details["llm_filter"] = err
	}

	for field, err := range validateRetrieval(cfg.Retrieval, cfg.ChunkSizes) {
		details["retrieval."+field] = err
	}

	return Result{OK: len(details) == 0, Details: details}
}

func (v *Validator) validateMilvus(ctx context.Context, cfg pipelineconfig.MilvusConfig, checkConnectivity bool) string {
	if cfg.Host == "" {
		return "milvus.host is required"
	}
	if cfg.Collection == "" {
		return "milvus.collection is required"
	}
	if !checkConnectivity || v.pool == nil {
		return ""
	}

	handle := v.pool.Acquire(ctx, cfg)
	if handle == nil {
		return "unable to connect to milvus"
	}
	exists, err := handle.Client.HasCollection(ctx, cfg.Collection)
	if err != nil {
		return fmt.Sprintf("collection check failed: %v", err)
	}
	if !exists {
		return fmt.Sprintf("collection %q not found", cfg.Collection)
	}
	return ""
}

// validateRerank follows pipelineconfig's "empty api_url disables
// reranking" convention, diverging from the Python original (which
// requires rerank.api_url unconditionally): a pipeline with no api_url
// is valid and falls back to the deterministic Mock reranker.
func (v *Validator) validateRerank(ctx context.Context, cfg pipelineconfig.RerankConfig, checkConnectivity bool) string {
	if !cfg.Enabled() {
		return ""
	}
	if !checkConnectivity {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.APIURL, nil)
	if err != nil {
		return fmt.Sprintf("invalid rerank.api_url: %v", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("rerank service unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Sprintf("rerank service error: %d", resp.StatusCode)
	}
	return ""
}

// validateLLMFilter mirrors _test_llm: an empty base_url is treated as
// "filtering disabled" (passthrough), not an error. An empty API key is
// allowed too, since the credential may be supplied by the environment
// at request time rather than stored in the pipeline YAML.
func validateLLMFilter(cfg pipelineconfig.LLMFilterConfig) string {
	_ = cfg
	return ""
}

func validateRetrieval(retrieval pipelineconfig.RetrievalParams, chunks pipelineconfig.ChunkSizes) map[string]string {
	errors := make(map[string]string)
	if retrieval.TopKPerModel <= 0 {
		errors["top_k_per_model"] = "must be > 0"
	}
	if retrieval.RerankTopK <= 0 {
		errors["rerank_top_k"] = "must be > 0"
	}
	if retrieval.FinalTopK <= 0 {
		errors["final_top_k"] = "must be > 0"
	}
	if chunks.InitialSearch <= 0 {
		errors["chunk_sizes.initial_search"] = "must be > 0"
	}
	if chunks.RerankInput <= 0 {
		errors["chunk_sizes.rerank_input"] = "must be > 0"
	}
	if chunks.LLMFilterInput <= 0 {
		errors["chunk_sizes.llm_filter_input"] = "must be > 0"
	}
	return errors
}
