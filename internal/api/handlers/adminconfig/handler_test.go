package adminconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/validator"
)

type fakeStore struct {
	file pipelineconfig.PipelinesFile
	err  error
}

func (f *fakeStore) List(context.Context) (pipelineconfig.PipelinesFile, error) { return f.file, f.err }
func (f *fakeStore) Get(_ context.Context, name string) (pipelineconfig.PipelineConfig, error) {
	if f.err != nil {
		return pipelineconfig.PipelineConfig{}, f.err
	}
	cfg, ok := f.file.Pipelines[name]
	if !ok {
		return pipelineconfig.PipelineConfig{}, &pipelineconfig.NotFoundError{Name: name}
	}
	return cfg, nil
}
func (f *fakeStore) Upsert(_ context.Context, name string, cfg pipelineconfig.PipelineConfig) (pipelineconfig.PipelinesFile, error) {
	if f.err != nil {
		return pipelineconfig.PipelinesFile{}, f.err
	}
	if f.file.Pipelines == nil {
		f.file.Pipelines = make(map[string]pipelineconfig.PipelineConfig)
	}
	f.file.Pipelines[name] = cfg
	return f.file, nil
}
func (f *fakeStore) Delete(_ context.Context, name string) (pipelineconfig.PipelinesFile, error) {
	delete(f.file.Pipelines, name)
	return f.file, f.err
}
func (f *fakeStore) SetDefault(_ context.Context, name string) (pipelineconfig.PipelinesFile, error) {
	f.file.Default = name
	return f.file, f.err
}

func routerWithHandler(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/config/pipelines", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/config/pipelines/{name}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/config/pipelines/{name}", h.Upsert).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/config/pipelines/{name}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/config/pipelines/{name}/validate", h.Validate).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/config/default", h.SetDefault).Methods(http.MethodPut)
	return r
}

func validPipeline() pipelineconfig.PipelineConfig {
	return pipelineconfig.PipelineConfig{
		EmbeddingModels: []string{"openai:text-embedding-3-small"},
		Milvus:          pipelineconfig.MilvusConfig{Host: "milvus", Port: 19530, Collection: "kb"},
		Retrieval:       pipelineconfig.RetrievalParams{TopKPerModel: 10, RerankTopK: 20, FinalTopK: 5},
		ChunkSizes:      pipelineconfig.ChunkSizes{InitialSearch: 100, RerankInput: 50, LLMFilterInput: 20},
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	store := &fakeStore{file: pipelineconfig.PipelinesFile{Pipelines: map[string]pipelineconfig.PipelineConfig{}}}
	h := New(store, validator.New(nil), nil)
	router := routerWithHandler(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/pipelines/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Upsert_RejectsInvalidConfig(t *testing.T) {
	store := &fakeStore{file: pipelineconfig.PipelinesFile{Pipelines: map[string]pipelineconfig.PipelineConfig{}}}
	h := New(store, validator.New(nil), nil)
	router := routerWithHandler(h)

	invalid := validPipeline()
	invalid.EmbeddingModels = nil
	body, _ := json.Marshal(invalid)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/pipelines/kb", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Upsert_AcceptsValidConfig(t *testing.T) {
	store := &fakeStore{file: pipelineconfig.PipelinesFile{Pipelines: map[string]pipelineconfig.PipelineConfig{}}}
	h := New(store, validator.New(nil), nil)
	router := routerWithHandler(h)

	body, _ := json.Marshal(validPipeline())
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/pipelines/kb", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, store.file.Pipelines, "kb")
}

func TestHandler_Validate_ReturnsStructuralResult(t *testing.T) {
	store := &fakeStore{file: pipelineconfig.PipelinesFile{Pipelines: map[string]pipelineconfig.PipelineConfig{
		"kb": validPipeline(),
	}}}
	h := New(store, validator.New(nil), nil)
	router := routerWithHandler(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/pipelines/kb/validate", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result validator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
}

func TestHandler_SetDefault(t *testing.T) {
	store := &fakeStore{file: pipelineconfig.PipelinesFile{Pipelines: map[string]pipelineconfig.PipelineConfig{
		"kb": validPipeline(),
	}}}
	h := New(store, validator.New(nil), nil)
	router := routerWithHandler(h)

	body, _ := json.Marshal(map[string]string{"name": "kb"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/default", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kb", store.file.Default)
}
