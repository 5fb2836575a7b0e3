// Package retrieval exposes C7/C8 over HTTP: a single search endpoint,
// plus a debug variant that surfaces every pipeline stage's output.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/vitaliisemenov/alert-history/internal/api/errors"
	"github.com/vitaliisemenov/alert-history/internal/api/middleware"
	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	domainretrieval "github.com/vitaliisemenov/alert-history/internal/retrieval"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/orchestrator"
)

// OrchestratorCache is the narrow capability the handler needs from C8.
type OrchestratorCache interface {
	Get(ctx context.Context, pipeline string) (*orchestrator.Orchestrator, error)
}

// Handler serves the retrieval search API.
type Handler struct {
	cache  OrchestratorCache
	logger *slog.Logger
}

// New builds a Handler backed by the given orchestrator cache.
func New(cache OrchestratorCache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cache: cache, logger: logger}
}

type searchRequest struct {
	Query    string `json:"query"`
	Pipeline string `json:"pipeline_name,omitempty"`
}

type searchResponse struct {
	Query   string              `json:"query"`
	Results []resultView        `json:"results"`
	Debug   *orchestrator.Debug `json:"debug,omitempty"`
}

// resultView is the public, non-debug result shape: chunk_id and text
// only. Chunk always carries a populated Score (and usually Embedder),
// which search/debug's plain results must not leak.
type resultView struct {
	ChunkID int64  `json:"chunk_id"`
	Text    string `json:"text"`
}

func toResultViews(chunks []domainretrieval.Chunk) []resultView {
	out := make([]resultView, len(chunks))
	for i, c := range chunks {
		out[i] = resultView{ChunkID: c.ChunkID, Text: c.Text}
	}
	return out
}

// Search handles POST /api/v1/retrieval/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, false)
}

// SearchDebug handles POST /api/v1/retrieval/search/debug, returning the
// intermediate output of every pipeline stage alongside the final chunks.
func (h *Handler) SearchDebug(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, true)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, debug bool) {
	requestID := middleware.GetRequestID(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.ValidationError("invalid request body").WithRequestID(requestID))
		return
	}
	if p := r.URL.Query().Get("pipeline_name"); p != "" {
		req.Pipeline = p
	}

	query, err := domainretrieval.NewQuery(req.Query, req.Pipeline)
	if err != nil {
		apierrors.WriteError(w, apierrors.ValidationError(err.Error()).WithRequestID(requestID))
		return
	}

	orch, err := h.cache.Get(r.Context(), query.Pipeline)
	if err != nil {
		h.writeResolveError(w, requestID, err)
		return
	}

	result, err := orch.Retrieve(r.Context(), query.Text, debug)
	if err != nil {
		h.writeRetrieveError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:   query.Text,
		Results: toResultViews(result.Chunks),
		Debug:   result.Debug,
	})
}

func (h *Handler) writeResolveError(w http.ResponseWriter, requestID string, err error) {
	var notFound *pipelineconfig.NotFoundError
	if errors.As(err, &notFound) {
		apierrors.WriteError(w, apierrors.NotFoundError("pipeline "+notFound.Name).WithRequestID(requestID))
		return
	}
	h.logger.Error("failed to resolve orchestrator", "error", err)
	apierrors.WriteError(w, apierrors.InternalError("failed to resolve pipeline").WithRequestID(requestID))
}

func (h *Handler) writeRetrieveError(w http.ResponseWriter, requestID string, err error) {
	if errors.Is(err, context.Canceled) {
		apierrors.WriteError(w, apierrors.CancelledError().WithRequestID(requestID))
		return
	}
	var allFailed *orchestrator.AllEmbeddersFailedError
	if errors.As(err, &allFailed) {
		apierrors.WriteError(w, apierrors.EmbeddingError(err.Error()).WithRequestID(requestID))
		return
	}
	h.logger.Error("retrieval failed", "error", err)
	apierrors.WriteError(w, apierrors.InternalError("retrieval failed").WithRequestID(requestID))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
