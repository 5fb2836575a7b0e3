// Package pool implements C2, the shared Milvus client pool keyed by
// connection parameters. It is a direct port of
// MilvusConnectionPool from the Python original: connections are
// reused across pipelines that share a binding, recycled on a soft
// idle timeout, and probed with a cheap liveness call before reuse.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
)

// Handle wraps a pooled Milvus client. A nil Handle (with no error)
// signals "pool unavailable" to the caller, which the vector store
// adapter treats as a zero-contribution search rather than a hard
// failure, per the spec's graceful-degradation rule for this layer.
type Handle struct {
	Client milvusclient.Client
	alias  string
}

type entry struct {
	handle   *Handle
	lastUsed time.Time
}

type key struct {
	host, user, password, database string
	port                            int
}

func keyFor(cfg pipelineconfig.MilvusConfig) key {
	return key{host: cfg.Host, port: cfg.Port, user: cfg.User, password: cfg.Password, database: cfg.Database}
}

// Pool manages reusable Milvus connections keyed by (host, port, user,
// password, database).
type Pool struct {
	maxIdle time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[key]*entry
}

// New creates a Pool. maxIdle is the soft idle expiry: a cached
// connection idle for less than maxIdle is probed before reuse and
// recreated if the probe fails; one idle for longer is recreated without
// a probe (default 10m, matching the Python pool's _max_idle_seconds).
func New(maxIdle time.Duration, logger *slog.Logger) *Pool {
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{maxIdle: maxIdle, logger: logger, entries: make(map[key]*entry)}
}

// Acquire returns a pooled connection for cfg, creating one if needed.
// A nil handle means the pool could not establish or
// validate a connection; callers must treat that as "no result from
// this binding", not as a transport error to propagate.
func (p *Pool) Acquire(ctx context.Context, cfg pipelineconfig.MilvusConfig) *Handle {
	k := keyFor(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[k]; ok {
		if p.isHealthy(ctx, e) {
			e.lastUsed = time.Now()
			return e.handle
		}
		p.disconnect(e)
		delete(p.entries, k)
	}

	handle := p.connect(ctx, cfg)
	if handle == nil {
		return nil
	}
	p.entries[k] = &entry{handle: handle, lastUsed: time.Now()}
	return handle
}

func (p *Pool) isHealthy(ctx context.Context, e *entry) bool {
	if time.Since(e.lastUsed) > p.maxIdle {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := e.handle.Client.ListCollections(probeCtx); err != nil {
		p.logger.Warn("pooled milvus connection unhealthy", "alias", e.handle.alias, "error", err)
		return false
	}
	return true
}

func (p *Pool) connect(ctx context.Context, cfg pipelineconfig.MilvusConfig) *Handle {
	alias := fmt.Sprintf("pool-%s-%d-%d", cfg.Host, cfg.Port, time.Now().UnixNano())

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientConfig := milvusclient.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.User,
		Password: cfg.Password,
		DBName:   cfg.Database,
	}
	c, err := milvusclient.NewClient(connectCtx, clientConfig)
	if err != nil {
		p.logger.Error("failed to connect to milvus", "host", cfg.Host, "port", cfg.Port, "error", err)
		return nil
	}

	p.logger.Info("connected to milvus", "alias", alias, "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)
	return &Handle{Client: c, alias: alias}
}

func (p *Pool) disconnect(e *entry) {
	if e.handle == nil || e.handle.Client == nil {
		return
	}
	if err := e.handle.Client.Close(); err != nil {
		p.logger.Warn("error closing milvus connection", "alias", e.handle.alias, "error", err)
	}
}

// CloseAll disconnects every pooled connection. Called on service
// shutdown, through the service cache's Close.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		p.disconnect(e)
		delete(p.entries, k)
	}
}
