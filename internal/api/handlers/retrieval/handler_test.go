package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	domainretrieval "github.com/vitaliisemenov/alert-history/internal/retrieval"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/embedder"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/llmfilter"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/orchestrator"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/reranker"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/vectorstore"
)

type fakeSearcher struct{ hits []vectorstore.Hit }

func (f *fakeSearcher) Search(context.Context, pipelineconfig.MilvusConfig, []float32, int) []vectorstore.Hit {
	return f.hits
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (fakeEmbedder) Dimension() int { return 2 }
func (fakeEmbedder) Name() string   { return "fake" }

type passthroughFilter struct{}

func (passthroughFilter) Filter(_ context.Context, _ string, chunks []domainretrieval.Chunk, topK int) []domainretrieval.Chunk {
	if topK > len(chunks) {
		topK = len(chunks)
	}
	return chunks[:topK]
}

var _ llmfilter.Filter = passthroughFilter{}

type fakeCache struct {
	orch *orchestrator.Orchestrator
	err  error
}

func (f *fakeCache) Get(context.Context, string) (*orchestrator.Orchestrator, error) {
	return f.orch, f.err
}

func buildOrchestrator() *orchestrator.Orchestrator {
	cfg := pipelineconfig.PipelineConfig{
		Name:            "kb",
		EmbeddingModels: []string{"fake"},
		Retrieval:       pipelineconfig.RetrievalParams{TopKPerModel: 5, RerankTopK: 5, FinalTopK: 3},
		ChunkSizes:      pipelineconfig.ChunkSizes{InitialSearch: 10, RerankInput: 10, LLMFilterInput: 10},
	}
	store := &fakeSearcher{hits: []vectorstore.Hit{{ID: 1, Text: "alpha", Distance: 0.1}}}
	return orchestrator.New(cfg, []embedder.Embedder{fakeEmbedder{}}, store, reranker.Mock{}, passthroughFilter{}, nil)
}

func TestHandler_Search_ReturnsChunks(t *testing.T) {
	orch := buildOrchestrator()

	h := New(&fakeCache{orch: orch}, nil)

	body, _ := json.Marshal(searchRequest{Query: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieval/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Search(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Debug)
	assert.Equal(t, "hello", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(1), resp.Results[0].ChunkID)
	assert.Equal(t, "alpha", resp.Results[0].Text)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	_, hasChunks := raw["chunks"]
	assert.False(t, hasChunks, "non-debug response must not expose a chunks key")
	var rawResults []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["results"], &rawResults))
	_, hasScore := rawResults[0]["score"]
	assert.False(t, hasScore, "non-debug results must not leak score")
	_, hasEmbedder := rawResults[0]["embedder"]
	assert.False(t, hasEmbedder, "non-debug results must not leak embedder")
}

func TestHandler_Search_RejectsEmptyQuery(t *testing.T) {
	h := New(&fakeCache{orch: buildOrchestrator()}, nil)

	body, _ := json.Marshal(searchRequest{Query: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieval/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Search(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Search_PipelineNotFound(t *testing.T) {
	h := New(&fakeCache{err: &pipelineconfig.NotFoundError{Name: "missing"}}, nil)

	body, _ := json.Marshal(searchRequest{Query: "hello", Pipeline: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieval/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Search(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_SearchDebug_PopulatesDebug(t *testing.T) {
	h := New(&fakeCache{orch: buildOrchestrator()}, nil)

	body, _ := json.Marshal(searchRequest{Query: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieval/search/debug", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SearchDebug(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Debug)
}
