// Package rerank calls an external reranking endpoint (§4.J step 4).
// It is a plain JSON HTTP client: no reranking library appears
// anywhere in the example pack, so this follows the stdlib-HTTP
// precedent set by internal/embeddings rather than inventing a
// dependency.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ragchat/internal/apperr"
	"ragchat/internal/retrievalservice/pipeline"
)

// Candidate is one chunk submitted to the reranker.
type Candidate struct {
	ChunkID string
	Text    string
}

// Result is one reranked chunk, in the reranker's chosen order.
type Result struct {
	ChunkID string
	Text    string
	Score   float64
}

type request struct {
	Query      string   `json:"query"`
	Candidates []candidateDTO `json:"candidates"`
	TopK       int      `json:"top_k"`
	Model      string   `json:"model,omitempty"`
}

type candidateDTO struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

type responseDTO struct {
	Results []struct {
		ChunkID string  `json:"chunk_id"`
		Text    string  `json:"text"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Client reranks candidate chunks against a query via HTTP.
type Client struct {
	cfg    pipeline.RerankConfig
	client *http.Client
}

// New constructs a Client. Call sites should check cfg.IsEnabled()
// before using it.
func New(cfg pipeline.RerankConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// Rerank submits candidates and returns topK reranked results.
func (c *Client) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Result, error) {
	dtos := make([]candidateDTO, len(candidates))
	for i, cand := range candidates {
		dtos[i] = candidateDTO{ChunkID: cand.ChunkID, Text: cand.Text}
	}

	body, err := json.Marshal(request{Query: query, Candidates: dtos, TopK: topK, Model: c.cfg.Model})
	if err != nil {
		return nil, apperr.New(apperr.RAG, "rerank.Rerank", fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.RAG, "rerank.Rerank", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.RAG, "rerank.Rerank", fmt.Errorf("call reranker: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.RAG, "rerank.Rerank", fmt.Errorf("reranker returned status %d", resp.StatusCode))
	}

	var decoded responseDTO
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.New(apperr.RAG, "rerank.Rerank", fmt.Errorf("parse response: %w", err))
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{ChunkID: r.ChunkID, Text: r.Text, Score: r.Score})
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
