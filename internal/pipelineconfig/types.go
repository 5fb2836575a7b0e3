// Package pipelineconfig is the hot-reloadable store of per-pipeline
// retrieval configuration (Milvus binding, embedding models, rerank/LLM
// endpoints, retrieval parameters). It owns one YAML file on disk and
// mirrors the env-substitution and mtime-reload behavior of the
// Python configuration manager it was ported from: every read checks
// the file's mtime and reloads if it moved, and every value is resolved
// against the process environment before validation.
package pipelineconfig

import "time"

// MilvusConfig is a pipeline's vector store connection binding.
type MilvusConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

func (m MilvusConfig) withDefaults() MilvusConfig {
	if m.Host == "" {
		m.Host = "localhost"
	}
	if m.Port == 0 {
		m.Port = 19530
	}
	if m.Database == "" {
		m.Database = "default"
	}
	if m.Collection == "" {
		m.Collection = "knowledge_base"
	}
	return m
}

// RerankConfig is a pipeline's reranker binding. An empty APIURL disables
// remote reranking for the pipeline (the mock/passthrough reranker takes
// over, per the spec's "disabled via empty string" convention).
type RerankConfig struct {
	APIURL  string        `yaml:"api_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

func (r RerankConfig) withDefaults() RerankConfig {
	if r.Timeout == 0 {
		r.Timeout = 30 * time.Second
	}
	return r
}

// Enabled reports whether remote reranking is configured for this pipeline.
func (r RerankConfig) Enabled() bool {
	return r.APIURL != ""
}

// LLMFilterConfig is a pipeline's LLM-filter binding. An empty BaseURL
// disables LLM filtering for the pipeline.
type LLMFilterConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Enabled reports whether LLM filtering is configured for this pipeline.
func (l LLMFilterConfig) Enabled() bool {
	return l.BaseURL != ""
}

// RetrievalParams are the chunk counts passed between pipeline stages.
type RetrievalParams struct {
	TopKPerModel int `yaml:"top_k_per_model"`
	RerankTopK   int `yaml:"rerank_top_k"`
	FinalTopK    int `yaml:"final_top_k"`
}

func (r RetrievalParams) withDefaults() RetrievalParams {
	if r.TopKPerModel == 0 {
		r.TopKPerModel = 10
	}
	if r.RerankTopK == 0 {
		r.RerankTopK = 20
	}
	if r.FinalTopK == 0 {
		r.FinalTopK = 10
	}
	return r
}

// ChunkSizes bound how many chunks survive each pipeline stage.
type ChunkSizes struct {
	InitialSearch  int `yaml:"initial_search"`
	RerankInput    int `yaml:"rerank_input"`
	LLMFilterInput int `yaml:"llm_filter_input"`
}

func (c ChunkSizes) withDefaults() ChunkSizes {
	if c.InitialSearch == 0 {
		c.InitialSearch = 100
	}
	if c.RerankInput == 0 {
		c.RerankInput = 50
	}
	if c.LLMFilterInput == 0 {
		c.LLMFilterInput = 20
	}
	return c
}

// Timeouts bounds how long each adapter call may run, composed with any
// shorter deadline the caller's context already carries.
type Timeouts struct {
	Embedder     time.Duration `yaml:"embedder"`
	VectorSearch time.Duration `yaml:"vector_search"`
	Rerank       time.Duration `yaml:"rerank"`
	LLMFilter    time.Duration `yaml:"llm_filter"`
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Embedder == 0 {
		t.Embedder = 30 * time.Second
	}
	if t.VectorSearch == 0 {
		t.VectorSearch = 10 * time.Second
	}
	if t.Rerank == 0 {
		t.Rerank = 30 * time.Second
	}
	if t.LLMFilter == 0 {
		t.LLMFilter = 30 * time.Second
	}
	return t
}

// PipelineConfig is the full configuration for one named retrieval pipeline.
type PipelineConfig struct {
	Name            string          `yaml:"-"`
	Milvus          MilvusConfig    `yaml:"milvus"`
	EmbeddingModels []string        `yaml:"embedding_models"`
	Rerank          RerankConfig    `yaml:"rerank"`
	LLMFilter       LLMFilterConfig `yaml:"llm_filter"`
	Retrieval       RetrievalParams `yaml:"retrieval"`
	ChunkSizes      ChunkSizes      `yaml:"chunk_sizes"`
	Timeouts        Timeouts        `yaml:"timeouts"`
}

// withDefaults fills every unset nested default, mirroring the Python
// root_validator(pre=True) that seeds empty "retrieval"/"chunk_sizes" maps.
func (p PipelineConfig) withDefaults() PipelineConfig {
	p.Milvus = p.Milvus.withDefaults()
	p.Rerank = p.Rerank.withDefaults()
	p.Retrieval = p.Retrieval.withDefaults()
	p.ChunkSizes = p.ChunkSizes.withDefaults()
	p.Timeouts = p.Timeouts.withDefaults()
	return p
}

// PipelinesFile is the top-level YAML document: a default pipeline name
// plus the map of all named pipeline configurations.
type PipelinesFile struct {
	Default   string                    `yaml:"default"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// racing the store's internal cache.
func (f PipelinesFile) Clone() PipelinesFile {
	out := PipelinesFile{Default: f.Default, Pipelines: make(map[string]PipelineConfig, len(f.Pipelines))}
	for name, cfg := range f.Pipelines {
		out.Pipelines[name] = cfg
	}
	return out
}
