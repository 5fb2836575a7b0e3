// Package retrieval holds the domain types shared by every pipeline
// stage: the Chunk a vector search or rerank/filter step produces, and
// the Query a caller submits.
package retrieval

import "strings"

// Chunk is a single retrieved passage as it flows through the pipeline.
// Score and RerankScore are pointers so a stage that has not yet run
// (and therefore never assigned a score) is distinguishable from one
// that assigned exactly zero.
type Chunk struct {
	ChunkID     int64    `json:"chunk_id"`
	Text        string   `json:"text"`
	Score       *float64 `json:"score,omitempty"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	Embedder    string   `json:"embedder,omitempty"`
}

// WithScore returns a copy of the chunk with Score set.
func (c Chunk) WithScore(score float64) Chunk {
	c.Score = &score
	return c
}

// WithRerankScore returns a copy of the chunk with RerankScore set.
func (c Chunk) WithRerankScore(score float64) Chunk {
	c.RerankScore = &score
	return c
}

// Query is a validated retrieval request.
type Query struct {
	Text     string
	Pipeline string
}

// NewQuery validates and constructs a Query. Pipeline may be empty, in
// which case the caller gets the config store's default pipeline.
func NewQuery(text, pipeline string) (Query, error) {
	if strings.TrimSpace(text) == "" {
		return Query{}, ErrEmptyQuery
	}
	return Query{Text: text, Pipeline: pipeline}, nil
}

// ErrEmptyQuery is returned by NewQuery when given blank query text.
var ErrEmptyQuery = queryError("query text must not be empty")

type queryError string

func (e queryError) Error() string { return string(e) }
