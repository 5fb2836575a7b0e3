// Package llmfilter implements C6: an LLM-backed relevance filter,
// grounded on qwen_filter.py. The LLM is asked to pick the most
// relevant chunk IDs for the user's question; on any failure to reach
// the model or parse its answer, the filter degrades to returning the
// first topK chunks unchanged.
package llmfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval"
)

// Filter selects the topK most relevant chunks for query.
type Filter interface {
	Filter(ctx context.Context, query string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk
}

// New returns an LLM-backed Filter, or a passthrough when the pipeline's
// llm_filter config is disabled (base_url == "").
func New(cfg pipelineconfig.LLMFilterConfig, timeout time.Duration, logger *slog.Logger) Filter {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		return passthrough{}
	}
	return &llmFilter{cfg: cfg, logger: logger, client: &http.Client{Timeout: timeout}}
}

type passthrough struct{}

func (passthrough) Filter(_ context.Context, _ string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk {
	if topK > len(chunks) {
		topK = len(chunks)
	}
	out := make([]retrieval.Chunk, topK)
	copy(out, chunks[:topK])
	return out
}

type llmFilter struct {
	cfg    pipelineconfig.LLMFilterConfig
	logger *slog.Logger
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

const systemPrompt = "You are a professional document retrieval assistant capable of accurately judging the relevance of document chunks to questions."

func (f *llmFilter) Filter(ctx context.Context, query string, chunks []retrieval.Chunk, topK int) []retrieval.Chunk {
	if len(chunks) == 0 {
		return nil
	}
	fallback := firstN(chunks, topK)

	prompt := buildPrompt(query, chunks, topK)
	reqBody := chatRequest{
		Model: f.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		f.logger.Error("llm filter: failed to encode request", "error", err)
		return fallback
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(f.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		f.logger.Error("llm filter: failed to build request", "error", err)
		return fallback
	}
	req.Header.Set("Content-Type", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("llm filter service unavailable, falling back", "error", err)
		return fallback
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("llm filter: failed to read response, falling back", "error", err)
		return fallback
	}
	if resp.StatusCode >= 300 {
		f.logger.Warn("llm filter: non-2xx response, falling back", "status", resp.StatusCode)
		return fallback
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		f.logger.Warn("llm filter: unexpected response format, falling back")
		return fallback
	}

	resultText := strings.TrimSpace(parsed.Choices[0].Message.Content)
	selectedIDs, ok := parseIDs(resultText)
	if !ok {
		f.logger.Warn("failed to parse LLM response, using first chunks", "response", resultText)
		return fallback
	}

	return selectAndFill(chunks, selectedIDs, topK)
}

func buildPrompt(query string, chunks []retrieval.Chunk, topK int) string {
	var chunkLines []string
	for i, c := range chunks {
		chunkLines = append(chunkLines, fmt.Sprintf("Chunk %d (ID: %d):\n%s", i+1, c.ChunkID, c.Text))
	}
	chunksText := strings.Join(chunkLines, "\n\n")

	return fmt.Sprintf(`You are a document retrieval assistant. A user has asked a question, and below are some retrieved document chunks.

User Question: %s

Document Chunks:
%s

Please select the %d most relevant chunks based on the user's question. Return only the IDs of these chunks, separated by commas, in the format: 1,3,5,7

Return only the ID list, nothing else.`, query, chunksText, topK)
}

// parseIDs splits a comma-separated list of chunk IDs, skipping any
// token that fails to parse. ok is false only when nothing parsed.
func parseIDs(text string) ([]int64, bool) {
	tokens := strings.Split(text, ",")
	var ids []int64
	for _, tok := range tokens {
		v, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, v)
	}
	return ids, len(ids) > 0
}

// selectAndFill keeps chunks named by selectedIDs (in that order),
// then fills any remaining slots from the input in its original order
// (not an unordered set difference, unlike the Python original — this
// keeps the fill step deterministic).
func selectAndFill(chunks []retrieval.Chunk, selectedIDs []int64, topK int) []retrieval.Chunk {
	byID := make(map[int64]retrieval.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	seen := make(map[int64]struct{}, len(selectedIDs))
	filtered := make([]retrieval.Chunk, 0, topK)
	for _, id := range selectedIDs {
		if len(filtered) >= topK {
			break
		}
		c, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		filtered = append(filtered, c)
	}

	if len(filtered) < topK {
		for _, c := range chunks {
			if len(filtered) >= topK {
				break
			}
			if _, already := seen[c.ChunkID]; already {
				continue
			}
			filtered = append(filtered, c)
			seen[c.ChunkID] = struct{}{}
		}
	}

	return filtered
}

func firstN(chunks []retrieval.Chunk, n int) []retrieval.Chunk {
	if n > len(chunks) {
		n = len(chunks)
	}
	out := make([]retrieval.Chunk, n)
	copy(out, chunks[:n])
	return out
}
