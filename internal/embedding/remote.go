package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/kura/pkg/utils"
)

// RemoteEmbedder calls an external embedding generator over HTTP. The server
// is expected to accept {"model": ..., "input": [...]} and respond with
// {"embeddings": [[...], ...]}, the convention of text-embeddings-inference
// style endpoints.
type RemoteEmbedder struct {
	url    string
	model  ModelType
	client *http.Client
	cache  *EmbeddingCache
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewRemoteEmbedder returns an embedder backed by the generator at url.
// cacheSize bounds the LRU embedding cache; 0 disables caching.
func NewRemoteEmbedder(url string, model ModelType, cacheSize int) *RemoteEmbedder {
	var cache *EmbeddingCache
	if cacheSize > 0 {
		cache = NewEmbeddingCache(cacheSize)
	}
	return &RemoteEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
		cache:  cache,
	}
}

// Embed returns the embedding for text, consulting the cache first.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			return v, nil
		}
	}
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in a single request. Inputs longer than the
// model's max input size are truncated before sending.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		if e.model.MaxInputSize > 0 && len(t) > e.model.MaxInputSize {
			cut := e.model.MaxInputSize
			// Back up to a rune boundary so the cut never splits a
			// multi-byte character.
			for cut > 0 && !utf8.RuneStart(t[cut]) {
				cut--
			}
			t = t[:cut]
		}
		input[i] = t
	}
	body, err := json.Marshal(embedRequest{Model: e.model.Name, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding generator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding generator returned %d: %s", resp.StatusCode, msg)
	}
	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding generator returned %d vectors for %d inputs", len(parsed.Embeddings), len(texts))
	}
	for i, vec := range parsed.Embeddings {
		if e.model.Dimensions > 0 && len(vec) != e.model.Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, model %s expects %d", i, len(vec), e.model.Name, e.model.Dimensions)
		}
		utils.NormalizeL2(vec)
		if e.cache != nil {
			e.cache.Set(texts[i], vec)
		}
	}
	return parsed.Embeddings, nil
}

// Model returns the model identity this embedder generates with.
func (e *RemoteEmbedder) Model() ModelType {
	return e.model
}

// Close releases idle connections.
func (e *RemoteEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
