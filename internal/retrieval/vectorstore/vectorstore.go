// Package vectorstore implements C4, the Milvus search adapter. It
// borrows a connection from the pool (C2), loads the target
// collection, and searches with the wire parameters spec.md fixes for
// every pipeline: L2 metric, nprobe 10, output fields id/text.
package vectorstore

import (
	"context"
	"log/slog"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/pool"
)

// Hit is a single raw vector-search result, before merge/dedup.
type Hit struct {
	ID       int64
	Text     string
	Distance float64
}

const (
	embeddingField = "embedding"
	idField        = "id"
	textField      = "text"
	searchNProbe   = 10
)

// Store searches one Milvus binding via the shared pool.
type Store struct {
	pool   *pool.Pool
	logger *slog.Logger
}

// New builds a Store bound to the given pool.
func New(p *pool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: p, logger: logger}
}

// Search runs a single query vector against the configured collection
// and returns up to limit hits ordered by ascending L2 distance.
//
// Any failure to acquire the pool, load the collection, or execute the
// search is logged and absorbed into a nil return — the
// orchestrator treats an embedder's search failure as "this embedder
// contributed nothing", never as a request-ending error, per spec.md §4.4.
func (s *Store) Search(ctx context.Context, cfg pipelineconfig.MilvusConfig, vector []float32, limit int) []Hit {
	handle := s.pool.Acquire(ctx, cfg)
	if handle == nil {
		s.logger.Warn("vector store unavailable", "host", cfg.Host, "collection", cfg.Collection)
		return nil
	}

	if err := handle.Client.LoadCollection(ctx, cfg.Collection, false); err != nil {
		s.logger.Warn("failed to load collection", "collection", cfg.Collection, "error", err)
		return nil
	}

	vec := entity.FloatVector(vector)
	sp, err := entity.NewIndexIvfFlatSearchParam(searchNProbe)
	if err != nil {
		s.logger.Error("invalid search param", "error", err)
		return nil
	}

	results, err := handle.Client.Search(
		ctx,
		cfg.Collection,
		nil,
		"",
		[]string{idField, textField},
		[]entity.Vector{vec},
		embeddingField,
		entity.L2,
		limit,
		sp,
	)
	if err != nil {
		s.logger.Warn("vector search failed", "collection", cfg.Collection, "error", err)
		return nil
	}

	var hits []Hit
	for _, res := range results {
		ids := res.IDs
		for i := 0; i < ids.Len(); i++ {
			id, err := ids.GetAsInt64(i)
			if err != nil {
				continue
			}
			text := fieldText(res, i)
			distance := float64(0)
			if i < len(res.Scores) {
				distance = float64(res.Scores[i])
			}
			hits = append(hits, Hit{ID: id, Text: text, Distance: distance})
		}
	}
	return hits
}

func fieldText(res entity.ResultSet, i int) string {
	for _, field := range res.Fields {
		if field.Name() != textField {
			continue
		}
		if col, ok := field.(*entity.ColumnVarChar); ok && i < len(col.Data()) {
			return col.Data()[i]
		}
	}
	return ""
}
