// Package adminconfig exposes C1 (the pipeline config store) and C9
// (the validator) over HTTP: CRUD on named pipelines, default-pipeline
// selection, and a validate-without-saving endpoint.
package adminconfig

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/vitaliisemenov/alert-history/internal/api/errors"
	"github.com/vitaliisemenov/alert-history/internal/api/middleware"
	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/validator"
)

// ConfigStore is the narrow slice of pipelineconfig.Store the handler needs.
type ConfigStore interface {
	List(ctx context.Context) (pipelineconfig.PipelinesFile, error)
	Get(ctx context.Context, name string) (pipelineconfig.PipelineConfig, error)
	Upsert(ctx context.Context, name string, cfg pipelineconfig.PipelineConfig) (pipelineconfig.PipelinesFile, error)
	Delete(ctx context.Context, name string) (pipelineconfig.PipelinesFile, error)
	SetDefault(ctx context.Context, name string) (pipelineconfig.PipelinesFile, error)
}

// Handler serves the pipeline configuration management API.
type Handler struct {
	store     ConfigStore
	validator *validator.Validator
	logger    *slog.Logger
}

// New builds a Handler backed by the given store and validator.
func New(store ConfigStore, v *validator.Validator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, validator: v, logger: logger}
}

// List handles GET /api/v1/config/pipelines.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	file, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Get handles GET /api/v1/config/pipelines/{name}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	name := mux.Vars(r)["name"]

	cfg, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Upsert handles PUT /api/v1/config/pipelines/{name}.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	name := mux.Vars(r)["name"]

	var cfg pipelineconfig.PipelineConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		apierrors.WriteError(w, apierrors.ValidationError("invalid request body").WithRequestID(requestID))
		return
	}

	if h.validator != nil {
		result := h.validator.ValidatePipeline(r.Context(), cfg, false)
		if !result.OK {
			apierrors.WriteError(w, apierrors.InvalidConfigError("pipeline configuration is invalid").WithDetails(result.Details).WithRequestID(requestID))
			return
		}
	}

	file, err := h.store.Upsert(r.Context(), name, cfg)
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Delete handles DELETE /api/v1/config/pipelines/{name}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	name := mux.Vars(r)["name"]

	file, err := h.store.Delete(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// SetDefault handles PUT /api/v1/config/default.
func (h *Handler) SetDefault(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.ValidationError("invalid request body").WithRequestID(requestID))
		return
	}

	file, err := h.store.SetDefault(r.Context(), req.Name)
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Validate handles POST /api/v1/config/pipelines/{name}/validate. It
// validates the named pipeline's stored configuration without writing
// anything, optionally probing external services when ?live=true.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	name := mux.Vars(r)["name"]

	cfg, err := h.store.Get(r.Context(), name)
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return
	}

	checkConnectivity := r.URL.Query().Get("live") == "true"
	result := h.validator.ValidatePipeline(r.Context(), cfg, checkConnectivity)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, requestID string, err error) {
	var notFound *pipelineconfig.NotFoundError
	if errors.As(err, &notFound) {
		apierrors.WriteError(w, apierrors.NotFoundError("pipeline "+notFound.Name).WithRequestID(requestID))
		return
	}
	if errors.Is(err, context.Canceled) {
		apierrors.WriteError(w, apierrors.CancelledError().WithRequestID(requestID))
		return
	}
	h.logger.Error("pipeline config operation failed", "error", err)
	apierrors.WriteError(w, apierrors.InvalidConfigError(err.Error()).WithRequestID(requestID))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
