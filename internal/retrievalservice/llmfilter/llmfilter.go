// Package llmfilter calls an external LLM-backed relevance filter
// (§4.J step 5). Like rerank, it is a plain JSON HTTP client gated by
// config presence rather than a chat-model Provider call: the filter
// endpoint is a dedicated service, not part of the conversational LLM
// used by internal/chat.
package llmfilter

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

// Candidate is one chunk submitted to the filter.
type Candidate struct {
	ChunkID string
	Text    string
}

// Result is one chunk the filter judged relevant.
type Result struct {
	ChunkID string
	Text    string
}

type request struct {
	Query      string         `json:"query"`
	Candidates []candidateDTO `json:"candidates"`
	TopK       int            `json:"top_k"`
	Model      string         `json:"model,omitempty"`
}

type candidateDTO struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

type responseDTO struct {
	Results []struct {
		ChunkID string `json:"chunk_id"`
		Text    string `json:"text"`
	} `json:"results"`
}

const defaultTimeout = 30 * time.Second

// Client filters candidate chunks for relevance via HTTP.
type Client struct {
	cfg    pipeline.LLMFilterConfig
	client *http.Client
}

// New constructs a Client. Call sites should check cfg.IsEnabled()
// before using it.
func New(cfg pipeline.LLMFilterConfig) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: defaultTimeout}}
}

// Filter submits candidates and returns up to topK chunks judged relevant.
func (c *Client) Filter(ctx context.Context, query string, candidates []Candidate, topK int) ([]Result, error) {
	dtos := make([]candidateDTO, len(candidates))
	for i, cand := range candidates {
		dtos[i] = candidateDTO{ChunkID: cand.ChunkID, Text: cand.Text}
	}

	body, err := json.Marshal(request{Query: query, Candidates: dtos, TopK: topK, Model: c.cfg.Model})
	if err != nil {
		return nil, apperr.New(apperr.RAG, "llmfilter.Filter", fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.RAG, "llmfilter.Filter", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.RAG, "llmfilter.Filter", fmt.Errorf("call filter: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.RAG, "llmfilter.Filter", fmt.Errorf("filter returned status %d", resp.StatusCode))
	}

	var decoded responseDTO
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.New(apperr.RAG, "llmfilter.Filter", fmt.Errorf("parse response: %w", err))
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{ChunkID: r.ChunkID, Text: r.Text})
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
