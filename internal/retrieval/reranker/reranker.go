// Package reranker implements C5: a remote cross-encoder reranker with
// graceful degradation, plus a deterministic mock used whenever a
// pipeline has reranking disabled (empty api_url).
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval"
)

// Reranker reorders chunks by relevance to query, keeping at most topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk
}

// New returns an API-backed Reranker, or a Mock when the pipeline's
// rerank config is disabled (api_url == "").
func New(cfg pipelineconfig.RerankConfig, logger *slog.Logger) Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		return Mock{}
	}
	return &apiReranker{cfg: cfg, logger: logger, client: &http.Client{Timeout: cfg.Timeout}}
}

type apiReranker struct {
	cfg    pipelineconfig.RerankConfig
	logger *slog.Logger
	client *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k"`
	Model     string   `json:"model,omitempty"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Rerank posts chunks to the remote reranker and returns its ordering.
// Any transport failure, non-2xx status, or malformed body degrades to
// "first topK of input, unchanged" rather than propagating an error —
// rerank failures never abort a retrieval request.
func (r *apiReranker) Rerank(ctx context.Context, query string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk {
	if len(chunks) == 0 {
		return nil
	}
	fallback := firstN(chunks, topK)

	documents := make([]string, len(chunks))
	for i, c := range chunks {
		documents[i] = c.Text
	}

	effectiveTopK := topK
	if effectiveTopK > len(chunks) {
		effectiveTopK = len(chunks)
	}
	reqBody := rerankRequest{Query: query, Documents: documents, TopK: effectiveTopK, Model: r.cfg.Model}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		r.logger.Error("rerank: failed to encode request", "error", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		r.logger.Error("rerank: failed to build request", "error", err)
		return fallback
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("reranker service unavailable, falling back to original order", "url", r.cfg.APIURL, "error", err)
		return fallback
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn("rerank: failed to read response, falling back", "error", err)
		return fallback
	}
	if resp.StatusCode >= 300 {
		r.logger.Warn("rerank: non-2xx response, falling back", "status", resp.StatusCode)
		return fallback
	}

	var parsed rerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Results == nil {
		r.logger.Warn("rerank: unexpected response format, falling back", "body", string(body))
		return fallback
	}

	out := make([]retrieval.Chunk, 0, topK)
	for _, res := range parsed.Results {
		if len(out) >= topK {
			break
		}
		if res.Index < 0 || res.Index >= len(chunks) {
			continue
		}
		score := res.RelevanceScore
		out = append(out, chunks[res.Index].WithRerankScore(score))
	}
	return out
}

func firstN(chunks []retrieval.Chunk, n int) []retrieval.Chunk {
	if n > len(chunks) {
		n = len(chunks)
	}
	out := make([]retrieval.Chunk, n)
	copy(out, chunks[:n])
	return out
}

// Mock reranks by blending keyword overlap with the chunk's original
// search score, grounded on mock_reranker.py. It is deterministic and
// used whenever a pipeline disables remote reranking.
type Mock struct{}

// Rerank implements Reranker.
func (Mock) Rerank(_ context.Context, query string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk {
	if len(chunks) == 0 {
		return nil
	}

	queryWords := wordSet(query)
	scored := make([]retrieval.Chunk, len(chunks))
	scores := make([]float64, len(chunks))
	for i, c := range chunks {
		textWords := wordSet(c.Text)
		overlap := len(intersect(queryWords, textWords))
		union := len(unite(queryWords, textWords))
		overlapScore := 0.0
		if union > 0 {
			overlapScore = float64(overlap) / float64(union)
		}
		originalScore := 0.0
		if c.Score != nil {
			originalScore = *c.Score
		}
		combined := 0.7*overlapScore + 0.3*(1.0-originalScore)
		scored[i] = c
		scores[i] = combined
	}

	idx := make([]int, len(scored))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	if topK > len(idx) {
		topK = len(idx)
	}
	out := make([]retrieval.Chunk, topK)
	for i := 0; i < topK; i++ {
		out[i] = scored[idx[i]].WithRerankScore(scores[idx[i]])
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for w := range a {
		if _, ok := b[w]; ok {
			out[w] = struct{}{}
		}
	}
	return out
}

func unite(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for w := range a {
		out[w] = struct{}{}
	}
	for w := range b {
		out[w] = struct{}{}
	}
	return out
}
