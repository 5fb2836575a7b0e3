package pipelineconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"
)

var (
	reloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipelineconfig_reloads_total",
		Help: "Total number of pipeline config reloads from disk.",
	})
	writesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipelineconfig_writes_total",
		Help: "Total number of pipeline config writes to disk.",
	})
)

// Store owns the single pipelines.yaml file backing every pipeline
// definition. Reads check the file's mtime and reload transparently;
// writes take an exclusive file lock and bump the mtime watermark so a
// writer never re-reads its own write as a foreign change.
type Store struct {
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger

	mu         sync.RWMutex
	cache      *PipelinesFile
	lastMtime  time.Time
	invalidate func(pipelineName string)
}

// New creates a Store backed by the YAML file at path. The parent
// directory is created if missing, mirroring the Python manager's
// eager `path.parent.mkdir`.
func New(path string, lockTimeout time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pipelineconfig: create config dir: %w", err)
	}
	return &Store{path: path, lockTimeout: lockTimeout, logger: logger}, nil
}

// OnInvalidate registers a callback invoked with the affected pipeline
// name (or "" for "all pipelines") after every mutating operation. The
// service cache (C8) wires this to its own Invalidate method.
func (s *Store) OnInvalidate(fn func(pipelineName string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate = fn
}

func (s *Store) notify(name string) {
	if s.invalidate != nil {
		s.invalidate(name)
	}
}

// List returns the full pipelines document, reloading from disk first if
// the file changed since the last read.
func (s *Store) List(ctx context.Context) (PipelinesFile, error) {
	if err := ctx.Err(); err != nil {
		return PipelinesFile{}, err
	}
	if err := s.ensureLoaded(); err != nil {
		return PipelinesFile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Clone(), nil
}

// Get returns a single pipeline's configuration. An empty name resolves
// to the configured default pipeline.
func (s *Store) Get(ctx context.Context, name string) (PipelineConfig, error) {
	file, err := s.List(ctx)
	if err != nil {
		return PipelineConfig{}, err
	}
	resolved := name
	if resolved == "" {
		resolved = file.Default
	}
	cfg, ok := file.Pipelines[resolved]
	if !ok {
		return PipelineConfig{}, &NotFoundError{Name: resolved}
	}
	cfg.Name = resolved
	return cfg, nil
}

// Upsert creates or replaces a named pipeline's configuration, persists
// it to disk, and notifies the invalidation callback.
func (s *Store) Upsert(ctx context.Context, name string, cfg PipelineConfig) (PipelinesFile, error) {
	if err := ctx.Err(); err != nil {
		return PipelinesFile{}, err
	}
	if name == "" {
		return PipelinesFile{}, fmt.Errorf("pipelineconfig: pipeline name cannot be empty")
	}
	if err := validateShape(cfg); err != nil {
		return PipelinesFile{}, fmt.Errorf("pipelineconfig: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	if file.Pipelines == nil {
		file.Pipelines = make(map[string]PipelineConfig)
	}
	cfg = cfg.withDefaults()
	cfg.Name = name
	file.Pipelines[name] = cfg
	if file.Default == "" {
		file.Default = name
	}
	if err := s.writeLocked(file); err != nil {
		return PipelinesFile{}, err
	}
	reloaded, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	s.notify(name)
	return reloaded.Clone(), nil
}

// Delete removes a pipeline's configuration. If it was the default, the
// default falls back to any remaining pipeline, or "" if none remain.
func (s *Store) Delete(ctx context.Context, name string) (PipelinesFile, error) {
	if err := ctx.Err(); err != nil {
		return PipelinesFile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	if _, ok := file.Pipelines[name]; !ok {
		return PipelinesFile{}, &NotFoundError{Name: name}
	}
	delete(file.Pipelines, name)
	if file.Default == name {
		file.Default = ""
		for remaining := range file.Pipelines {
			file.Default = remaining
			break
		}
	}
	if err := s.writeLocked(file); err != nil {
		return PipelinesFile{}, err
	}
	reloaded, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	s.notify(name)
	return reloaded.Clone(), nil
}

// SetDefault changes which pipeline name resolves from an empty name.
func (s *Store) SetDefault(ctx context.Context, name string) (PipelinesFile, error) {
	if err := ctx.Err(); err != nil {
		return PipelinesFile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	if _, ok := file.Pipelines[name]; !ok {
		return PipelinesFile{}, &NotFoundError{Name: name}
	}
	file.Default = name
	if err := s.writeLocked(file); err != nil {
		return PipelinesFile{}, err
	}
	reloaded, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	s.notify("")
	return reloaded.Clone(), nil
}

// Reload forces a re-read from disk, discarding any cached snapshot.
func (s *Store) Reload(ctx context.Context) (PipelinesFile, error) {
	if err := ctx.Err(); err != nil {
		return PipelinesFile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	file, err := s.loadLocked(true)
	if err != nil {
		return PipelinesFile{}, err
	}
	s.notify("")
	return file.Clone(), nil
}

// ensureLoaded loads from disk if nothing is cached yet, or if the
// file's mtime has moved past the last-seen watermark.
func (s *Store) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, statErr := s.mtime()
	needsLoad := s.cache == nil
	if statErr == nil && !current.Equal(s.lastMtime) {
		needsLoad = true
	}
	if !needsLoad {
		return nil
	}
	_, err := s.loadLocked(true)
	return err
}

func (s *Store) mtime() (time.Time, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// loadLocked reads and parses the YAML file under a shared file lock.
// Caller must hold s.mu.
func (s *Store) loadLocked(force bool) (PipelinesFile, error) {
	if s.cache != nil && !force {
		return *s.cache, nil
	}

	raw, err := s.readLocked()
	if err != nil {
		return PipelinesFile{}, err
	}

	var generic map[string]interface{}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return PipelinesFile{}, fmt.Errorf("pipelineconfig: parse yaml: %w", err)
		}
	}
	resolved := resolveEnv(generic)

	intermediate, err := yaml.Marshal(resolved)
	if err != nil {
		return PipelinesFile{}, fmt.Errorf("pipelineconfig: re-marshal resolved config: %w", err)
	}

	var file PipelinesFile
	if err := yaml.Unmarshal(intermediate, &file); err != nil {
		return PipelinesFile{}, fmt.Errorf("pipelineconfig: decode config: %w", err)
	}
	if file.Pipelines == nil {
		file.Pipelines = make(map[string]PipelineConfig)
	}
	for name, cfg := range file.Pipelines {
		cfg = cfg.withDefaults()
		cfg.Name = name
		file.Pipelines[name] = cfg
	}

	s.cache = &file
	if mt, err := s.mtime(); err == nil {
		s.lastMtime = mt
	}
	reloadsTotal.Inc()
	s.logger.Debug("pipeline config reloaded", "path", s.path, "pipelines", len(file.Pipelines))
	return file, nil
}

func (s *Store) readLocked() ([]byte, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}

	fl := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	locked, err := fl.TryRLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: acquire read lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("pipelineconfig: timed out acquiring read lock")
	}
	defer fl.Unlock()

	return os.ReadFile(s.path)
}

// writeLocked serializes the document and writes it under an exclusive
// file lock, then updates the mtime watermark so this process does not
// treat its own write as an external change on the next read.
func (s *Store) writeLocked(file PipelinesFile) error {
	out, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("pipelineconfig: marshal config: %w", err)
	}

	fl := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("pipelineconfig: acquire write lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("pipelineconfig: timed out acquiring write lock")
	}
	defer fl.Unlock()

	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("pipelineconfig: write config: %w", err)
	}
	if mt, err := s.mtime(); err == nil {
		s.lastMtime = mt
	}
	writesTotal.Inc()
	s.logger.Info("pipeline config written", "path", s.path, "pipelines", len(file.Pipelines))
	return nil
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// NotFoundError reports that a named pipeline does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pipeline %q not found", e.Name)
}

// validateShape enforces the structural invariants the store itself is
// responsible for; deeper external validation (reachability of Milvus,
// reranker, LLM endpoints) belongs to the validator package.
func validateShape(cfg PipelineConfig) error {
	if len(cfg.EmbeddingModels) == 0 {
		return fmt.Errorf("pipeline requires at least one embedding model")
	}
	if cfg.Retrieval.TopKPerModel < 0 || cfg.Retrieval.RerankTopK < 0 || cfg.Retrieval.FinalTopK < 0 {
		return fmt.Errorf("retrieval parameters must not be negative")
	}
	if cfg.ChunkSizes.InitialSearch < 0 || cfg.ChunkSizes.RerankInput < 0 || cfg.ChunkSizes.LLMFilterInput < 0 {
		return fmt.Errorf("chunk sizes must not be negative")
	}
	return nil
}
