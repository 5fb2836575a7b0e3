package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/embedder"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/reranker"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/vectorstore"
)

type fakeEmbedder struct {
	name string
	vec  []float32
	err  error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f fakeEmbedder) Dimension() int { return len(f.vec) }
func (f fakeEmbedder) Name() string   { return f.name }

var _ embedder.Embedder = fakeEmbedder{}

// fakeSearcher returns a fixed set of hits for every call, letting tests
// assert on the merge/dedup/truncate stages without a real Milvus pool.
type fakeSearcher struct {
	hits []vectorstore.Hit
}

func (f *fakeSearcher) Search(_ context.Context, _ pipelineconfig.MilvusConfig, _ []float32, _ int) []vectorstore.Hit {
	return f.hits
}

// rerankTopKSpy records the topK it was called with so tests can assert
// which config field the orchestrator feeds the reranker.
type rerankTopKSpy struct {
	gotTopK int
}

func (s *rerankTopKSpy) Rerank(_ context.Context, _ string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk {
	s.gotTopK = topK
	if topK > len(chunks) {
		topK = len(chunks)
	}
	return chunks[:topK]
}

type passthroughFilter struct{}

func (passthroughFilter) Filter(_ context.Context, _ string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk {
	if topK > len(chunks) {
		topK = len(chunks)
	}
	return chunks[:topK]
}

func testConfig() pipelineconfig.PipelineConfig {
	return pipelineconfig.PipelineConfig{
		Name:            "kb",
		EmbeddingModels: []string{"a", "b"},
		Retrieval: pipelineconfig.RetrievalParams{
			TopKPerModel: 10,
			RerankTopK:   10,
			FinalTopK:    2,
		},
		ChunkSizes: pipelineconfig.ChunkSizes{
			InitialSearch:  100,
			RerankInput:    50,
			LLMFilterInput: 20,
		},
		Timeouts: pipelineconfig.Timeouts{
			Embedder:     5 * time.Second,
			VectorSearch: 5 * time.Second,
			Rerank:       5 * time.Second,
			LLMFilter:    5 * time.Second,
		},
	}
}

func TestMergeAndDedup_KeepsLowestScoreAndSortsByScore(t *testing.T) {
	a := retrieval.Chunk{ChunkID: 1}.WithScore(0.5)
	b := retrieval.Chunk{ChunkID: 1}.WithScore(0.2)
	c := retrieval.Chunk{ChunkID: 2}.WithScore(0.1)

	cfg := testConfig()
	per := map[string][]retrieval.Chunk{
		"a": {a, c},
		"b": {b},
	}

	merged := mergeAndDedup(cfg, per)
	require.Len(t, merged, 2)
	assert.Equal(t, int64(2), merged[0].ChunkID)
	assert.Equal(t, int64(1), merged[1].ChunkID)
	assert.Equal(t, 0.2, *merged[1].Score, "dedup keeps the lower of the two scores seen for chunk 1")
}

func TestMergeAndDedup_TruncatesToInitialSearch(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSizes.InitialSearch = 1
	per := map[string][]retrieval.Chunk{
		"a": {
			retrieval.Chunk{ChunkID: 1}.WithScore(0.1),
			retrieval.Chunk{ChunkID: 2}.WithScore(0.2),
		},
	}
	merged := mergeAndDedup(cfg, per)
	assert.Len(t, merged, 1)
	assert.Equal(t, int64(1), merged[0].ChunkID)
}

func TestOrchestrator_Retrieve_EndToEndWithMockRerankAndPassthroughFilter(t *testing.T) {
	cfg := testConfig()
	store := &fakeSearcher{hits: []vectorstore.Hit{
		{ID: 1, Text: "alpha result", Distance: 0.1},
		{ID: 2, Text: "beta result", Distance: 0.2},
		{ID: 3, Text: "gamma result", Distance: 0.3},
	}}
	embedders := []embedder.Embedder{
		fakeEmbedder{name: "a", vec: []float32{0.1, 0.2}},
		fakeEmbedder{name: "b", vec: []float32{0.3, 0.4}},
	}

	orch := New(cfg, embedders, store, reranker.Mock{}, passthroughFilter{}, nil)

	res, err := orch.Retrieve(context.Background(), "a question about alpha", true)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Chunks), cfg.Retrieval.FinalTopK)
	require.NotNil(t, res.Debug)
	assert.Len(t, res.Debug.PerEmbedder, 2)
	assert.NotEmpty(t, res.Debug.Deduplicated)
}

func TestOrchestrator_Retrieve_RerankUsesChunkSizesRerankInput(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.RerankTopK = 5
	cfg.ChunkSizes.RerankInput = 50

	store := &fakeSearcher{hits: []vectorstore.Hit{
		{ID: 1, Text: "alpha result", Distance: 0.1},
	}}
	embedders := []embedder.Embedder{fakeEmbedder{name: "a", vec: []float32{0.1, 0.2}}}
	spy := &rerankTopKSpy{}

	orch := New(cfg, embedders, store, spy, passthroughFilter{}, nil)
	_, err := orch.Retrieve(context.Background(), "a question", false)
	require.NoError(t, err)

	assert.Equal(t, cfg.ChunkSizes.RerankInput, spy.gotTopK, "rerank stage must use chunk_sizes.rerank_input, not retrieval.rerank_top_k")
}

func TestOrchestrator_Retrieve_AllEmbeddersFailReturnsError(t *testing.T) {
	cfg := testConfig()
	store := &fakeSearcher{}
	embedders := []embedder.Embedder{
		fakeEmbedder{name: "a", err: assert.AnError},
		fakeEmbedder{name: "b", err: assert.AnError},
	}

	orch := New(cfg, embedders, store, reranker.Mock{}, passthroughFilter{}, nil)

	_, err := orch.Retrieve(context.Background(), "a question", false)
	require.Error(t, err)
	assert.IsType(t, &AllEmbeddersFailedError{}, err)
}

func TestOrchestrator_Retrieve_CancelledContext(t *testing.T) {
	cfg := testConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(cfg, nil, &fakeSearcher{}, reranker.Mock{}, passthroughFilter{}, nil)
	_, err := orch.Retrieve(ctx, "a question", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
