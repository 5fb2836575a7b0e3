package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
)

func validConfig() pipelineconfig.PipelineConfig {
	return pipelineconfig.PipelineConfig{
		Name:            "kb",
		EmbeddingModels: []string{"openai:text-embedding-3-small"},
		Milvus:          pipelineconfig.MilvusConfig{Host: "milvus", Port: 19530, Collection: "kb"},
		Retrieval:       pipelineconfig.RetrievalParams{TopKPerModel: 10, RerankTopK: 20, FinalTopK: 5},
		ChunkSizes:      pipelineconfig.ChunkSizes{InitialSearch: 100, RerankInput: 50, LLMFilterInput: 20},
	}
}

func TestValidatePipeline_ValidConfigPasses(t *testing.T) {
	v := New(nil)
	result := v.ValidatePipeline(context.Background(), validConfig(), false)
	assert.True(t, result.OK, result.Details)
}

func TestValidatePipeline_MissingEmbeddingModels(t *testing.T) {
	cfg := validConfig()
	cfg.EmbeddingModels = nil
	v := New(nil)
	result := v.ValidatePipeline(context.Background(), cfg, false)
	assert.False(t, result.OK)
	assert.Contains(t, result.Details, "embedding_models")
}

func TestValidatePipeline_MissingMilvusHost(t *testing.T) {
	cfg := validConfig()
	cfg.Milvus.Host = ""
	v := New(nil)
	result := v.ValidatePipeline(context.Background(), cfg, false)
	assert.False(t, result.OK)
	assert.Contains(t, result.Details, "milvus")
}

func TestValidatePipeline_DisabledRerankAndLLMFilterAreValid(t *testing.T) {
	cfg := validConfig()
	cfg.Rerank = pipelineconfig.RerankConfig{}
	cfg.LLMFilter = pipelineconfig.LLMFilterConfig{}
	v := New(nil)
	result := v.ValidatePipeline(context.Background(), cfg, false)
	assert.True(t, result.OK, result.Details)
}

func TestValidatePipeline_NonPositiveRetrievalParams(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.FinalTopK = 0
	cfg.ChunkSizes.RerankInput = -1
	v := New(nil)
	result := v.ValidatePipeline(context.Background(), cfg, false)
	assert.False(t, result.OK)
	assert.Contains(t, result.Details, "retrieval.final_top_k")
	assert.Contains(t, result.Details, "retrieval.chunk_sizes.rerank_input")
}

func TestValidateFile_DefaultNotFound(t *testing.T) {
	file := pipelineconfig.PipelinesFile{
		Default:   "missing",
		Pipelines: map[string]pipelineconfig.PipelineConfig{"kb": validConfig()},
	}
	v := New(nil)
	result := v.ValidateFile(context.Background(), file, false)
	assert.False(t, result.OK)
	assert.Contains(t, result.Details, "default")
}
