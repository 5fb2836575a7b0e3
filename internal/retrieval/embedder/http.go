package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var sharedClient = &http.Client{Timeout: 5 * time.Minute}

// parseEmbeddingsResponse implements the multi-shape JSON decode every
// adapter below needs: a top-level "embeddings" array, a top-level
// "data" array (each element optionally wrapping its vector under an
// "embedding" key, as OpenAI-compatible APIs do), a bare JSON array, or
// a single "embedding" field.
func parseEmbeddingsResponse(body []byte) ([][]float32, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err == nil {
		if raw, ok := generic["embeddings"]; ok {
			return decodeVectors(raw)
		}
		if raw, ok := generic["data"]; ok {
			return decodeDataVectors(raw)
		}
		if raw, ok := generic["embedding"]; ok {
			vec, err := decodeVector(raw)
			if err != nil {
				return nil, err
			}
			return [][]float32{vec}, nil
		}
		return nil, nil
	}

	var bare []interface{}
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("embedder: unrecognized response shape: %w", err)
	}
	return decodeVectors(bare)
}

func decodeDataVectors(raw interface{}) ([][]float32, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("embedder: \"data\" field is not an array")
	}
	out := make([][]float32, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]interface{}:
			emb, ok := v["embedding"]
			if !ok {
				return nil, fmt.Errorf("embedder: data item missing \"embedding\"")
			}
			vec, err := decodeVector(emb)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		case []interface{}:
			vec, err := decodeVector(v)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		default:
			return nil, fmt.Errorf("embedder: unrecognized data item shape")
		}
	}
	return out, nil
}

func decodeVectors(raw interface{}) ([][]float32, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("embedder: expected array of vectors")
	}
	out := make([][]float32, 0, len(items))
	for _, item := range items {
		vec, err := decodeVector(item)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func decodeVector(raw interface{}) ([]float32, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("embedder: expected numeric vector")
	}
	out := make([]float32, len(items))
	for i, v := range items {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("embedder: vector element %d is not numeric", i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func postJSON(ctx context.Context, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embedder: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedder: request to %s returned status %d: %s", url, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// dimensionCache lazily caches an observed vector width, mirroring the
// Python adapters' "_dimension is None" caching.
type dimensionCache struct {
	mu      sync.Mutex
	value   int
	sampled bool
}

func (d *dimensionCache) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

func (d *dimensionCache) setDefault(v int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.sampled {
		d.value = v
	}
}

func (d *dimensionCache) observe(v int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = v
	d.sampled = true
}
