// Package embedding provides the funnel's only network-facing boundary:
// turning text into the v_full vector that codec.EncodeBQ and
// codec.SliceVector derive the other two columns from. The funnel never
// talks to a model API directly — it only depends on the Embedder
// interface, so swapping providers never touches retrieval code.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"localmem/internal/engineerr"
	"localmem/internal/errlog"
)

// Embedder converts text into a single dense vector. Implementations own
// whatever model name, endpoint and auth a provider needs; the funnel
// only ever calls Embed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// --- OpenAI-compatible HTTP embedder ---

// OpenAICompatibleEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAICompatibleEmbedder struct {
	Endpoint  string
	APIKey    string
	ModelName string
	client    *http.Client
}

// NewOpenAICompatibleEmbedder builds an embedder for a given provider
// configuration.
func NewOpenAICompatibleEmbedder(endpoint, apiKey, modelName string) *OpenAICompatibleEmbedder {
	if apiKey != "" && !strings.HasPrefix(strings.ToLower(endpoint), "https://") {
		log.Printf("[WARNING] embedding API key is being sent over non-HTTPS endpoint: %s", endpoint)
	}
	return &OpenAICompatibleEmbedder{
		Endpoint:  endpoint,
		APIKey:    apiKey,
		ModelName: modelName,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed converts text into an embedding vector via the configured
// OpenAI-compatible endpoint, retrying transient failures with backoff.
func (e *OpenAICompatibleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Endpoint == "" {
		return nil, engineerr.New(engineerr.InvalidArgument, "embed: endpoint not configured")
	}

	reqBody := embeddingRequest{Model: e.ModelName, Input: text}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidArgument, "marshal embedding request", err)
	}

	apiURL := strings.TrimRight(e.Endpoint, "/") + "/embeddings"

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 2 * time.Second
			select {
			case <-ctx.Done():
				return nil, engineerr.Wrap(engineerr.Cancelled, "embed: context cancelled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, engineerr.Wrap(engineerr.InvalidArgument, "build embedding request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.APIKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, engineerr.Wrap(engineerr.Cancelled, "embed: context cancelled", ctx.Err())
			}
			lastErr = fmt.Errorf("embedding request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read embedding response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			errlog.Logf("embedding API error (HTTP %d): %s", resp.StatusCode, string(respBody))
			return nil, engineerr.New(engineerr.StorageUnavailable,
				fmt.Sprintf("embedding API error (HTTP %d)", resp.StatusCode))
		}

		var result embeddingResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, engineerr.Wrap(engineerr.StorageCorrupt, "decode embedding response", err)
		}
		if result.Error != nil {
			return nil, engineerr.New(engineerr.StorageUnavailable, "embedding API error: "+result.Error.Message)
		}
		if len(result.Data) == 0 {
			return nil, engineerr.New(engineerr.StorageUnavailable, "embedding API returned no results")
		}
		return result.Data[0].Embedding, nil
	}

	errlog.Logf("embedding API failed after %d attempts: %v", maxRetries, lastErr)
	return nil, engineerr.Wrap(engineerr.StorageUnavailable, "embedding API failed after retries", lastErr)
}

// --- Ollama embedder ---

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	Host      string
	ModelName string
	client    *http.Client
}

// NewOllamaEmbedder builds an embedder against a local Ollama host, e.g.
// "http://localhost:11434".
func NewOllamaEmbedder(host, modelName string) *OllamaEmbedder {
	return &OllamaEmbedder{
		Host:      host,
		ModelName: modelName,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed converts text into an embedding vector via Ollama's local API.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Host == "" {
		return nil, engineerr.New(engineerr.InvalidArgument, "embed: ollama host not configured")
	}

	bodyBytes, err := json.Marshal(ollamaEmbedRequest{Model: e.ModelName, Prompt: text})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidArgument, "marshal ollama request", err)
	}

	url := strings.TrimRight(e.Host, "/") + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, engineerr.Wrap(engineerr.InvalidArgument, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engineerr.Wrap(engineerr.Cancelled, "embed: context cancelled", ctx.Err())
		}
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "ollama request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, engineerr.Wrap(engineerr.StorageUnavailable, "read ollama response", err)
	}
	if resp.StatusCode != http.StatusOK {
		errlog.Logf("ollama embedding error (HTTP %d): %s", resp.StatusCode, string(respBody))
		return nil, engineerr.New(engineerr.StorageUnavailable,
			fmt.Sprintf("ollama embedding error (HTTP %d)", resp.StatusCode))
	}

	var result ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, engineerr.Wrap(engineerr.StorageCorrupt, "decode ollama response", err)
	}
	if len(result.Embedding) == 0 {
		return nil, engineerr.New(engineerr.StorageUnavailable, "ollama returned an empty embedding")
	}
	return result.Embedding, nil
}
