package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/alert-history/internal/api/handlers/adminconfig"
	retrievalhandler "github.com/vitaliisemenov/alert-history/internal/api/handlers/retrieval"
	"github.com/vitaliisemenov/alert-history/internal/api/middleware"
	"github.com/vitaliisemenov/alert-history/internal/config"
	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/cache"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/pool"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/validator"
	"github.com/vitaliisemenov/alert-history/pkg/logger"
)

const orchestratorCacheSize = 128

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the retrieval orchestrator HTTP API",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	bootLogger := newLogger(logger.Config{Level: "info", Format: "json", Output: "stdout"})

	cfg, err := loadConfig()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		return err
	}

	log := newLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	log.Info("starting retrieval orchestrator", "app", cfg.App.Name, "version", cfg.App.Version, "environment", cfg.App.Environment)

	store, err := pipelineconfig.New(cfg.Pipelines.FilePath, cfg.Pipelines.LockTimeout, log)
	if err != nil {
		log.Error("failed to initialize pipeline config store", "error", err)
		return err
	}

	connPool := pool.New(cfg.Pool.MaxIdle, log)
	orchestratorCache, err := cache.New(orchestratorCacheSize, store, connPool, log)
	if err != nil {
		log.Error("failed to initialize orchestrator cache", "error", err)
		return err
	}
	store.OnInvalidate(orchestratorCache.Invalidate)

	configValidator := validator.New(connPool)

	router := buildRouter(cfg, store, orchestratorCache, configValidator, log)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("HTTP server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		orchestratorCache.Close()
		return err
	}
	orchestratorCache.Close()
	log.Info("server exited cleanly")
	return nil
}

func buildRouter(cfg *config.Config, store *pipelineconfig.Store, orchestratorCache *cache.Cache, configValidator *validator.Validator, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()

	retrievalH := retrievalhandler.New(orchestratorCache, logger)
	adminH := adminconfig.New(store, configValidator, logger)
	healthH := healthHandler(store)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/retrieval/search", retrievalH.Search).Methods(http.MethodPost)
	api.HandleFunc("/retrieval/search/debug", retrievalH.SearchDebug).Methods(http.MethodPost)

	api.HandleFunc("/config/pipelines", adminH.List).Methods(http.MethodGet)
	api.HandleFunc("/config/pipelines/{name}", adminH.Get).Methods(http.MethodGet)
	api.HandleFunc("/config/pipelines/{name}", adminH.Upsert).Methods(http.MethodPut)
	api.HandleFunc("/config/pipelines/{name}", adminH.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/config/pipelines/{name}/validate", adminH.Validate).Methods(http.MethodPost)
	api.HandleFunc("/config/default", adminH.SetDefault).Methods(http.MethodPut)

	router.HandleFunc("/health", healthH).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	var handler http.Handler = router
	handler = middleware.MetricsMiddleware(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)
	handler = middleware.CORSMiddleware(middleware.DefaultCORSConfig())(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}

type healthResponse struct {
	Status             string `json:"status"`
	PipelinesAvailable int    `json:"pipelines_available"`
}

// healthHandler reports liveness plus how many pipelines the config
// store currently has loaded, so a caller can tell "up" from "up but
// nothing to serve" without a separate config call.
func healthHandler(store *pipelineconfig.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, err := store.List(r.Context())
		status := "ok"
		if err != nil {
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:             status,
			PipelinesAvailable: len(file.Pipelines),
		})
	}
}

func newLogger(cfg logger.Config) *slog.Logger {
	return logger.NewLogger(cfg)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfig(configFile)
	}
	return config.LoadConfigFromEnv()
}

