// Package embeddings is the per-model embedding connector §4.J's
// fan-out dispatches to, one instance per configured provider:model
// pair. It is a bare OpenAI-compatible "/v1/embeddings" HTTP client:
// no dedicated Go embeddings client appears anywhere in the example
// pack, so stdlib net/http is the grounded choice here.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ragchat/internal/apperr"
)

// Request is the OpenAI-compatible embeddings request body.
type Request struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type response struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

const defaultTimeout = 30 * time.Second

// Client embeds text against a single provider:model endpoint.
type Client struct {
	host   string
	apiKey string
	model  string
	http   *http.Client
}

// New constructs a Client for one embedding model. host is the full
// "/v1/embeddings"-style endpoint URL.
func New(host, apiKey, model string) *Client {
	return &Client{host: host, apiKey: apiKey, model: model, http: &http.Client{Timeout: defaultTimeout}}
}

// Embed returns one vector per input chunk, in order.
func (c *Client) Embed(ctx context.Context, chunks []string) ([][]float32, error) {
	body, err := json.Marshal(Request{Input: chunks, Model: c.model, EncodingFormat: "float"})
	if err != nil {
		return nil, apperr.New(apperr.RAG, "embeddings.Embed", fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.RAG, "embeddings.Embed", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.RAG, "embeddings.Embed", fmt.Errorf("call embedder: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.RAG, "embeddings.Embed", fmt.Errorf("bad status code: %d", resp.StatusCode))
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.New(apperr.RAG, "embeddings.Embed", fmt.Errorf("parse response: %w", err))
	}

	vectors := make([][]float32, len(decoded.Data))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			continue
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
