// Package source implements retrieval.Source adapters (§4.F). The only
// adapter today calls the retrieval service's /api/search endpoint; it is
// kept separate from internal/retrieval so new backends (a local vector
// store, a search engine) can be added without touching strategy code.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragchat/internal/apperr"
	"ragchat/internal/retrieval"
)

const defaultTimeout = 30 * time.Second

// Config configures an HTTPSource.
type Config struct {
	BaseURL         string
	DefaultPipeline string
	Timeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultPipeline == "" {
		c.DefaultPipeline = "default"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// HTTPSource is the retrieval.Source adapter for a running retrieval
// service (§4.J), calling POST {BaseURL}/api/search.
type HTTPSource struct {
	cfg    Config
	client *http.Client
}

// NewHTTPSource constructs an HTTPSource with its own bounded-timeout
// client, mirroring the retrieval service client's httpx.Client usage.
func NewHTTPSource(cfg Config) *HTTPSource {
	cfg = cfg.withDefaults()
	return &HTTPSource{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type searchRequest struct {
	Query        string `json:"query"`
	PipelineName string `json:"pipeline_name"`
	TopK         int    `json:"top_k,omitempty"`
}

type searchResponseItem struct {
	ChunkID string         `json:"chunk_id"`
	Text    string         `json:"text"`
	Score   float64        `json:"score"`
	Extra   map[string]any `json:"metadata"`
}

type searchResponse struct {
	Results []searchResponseItem `json:"results"`
}

// Search calls the retrieval service for candidate chunks. Entries
// missing a chunk_id or text are skipped rather than failing the whole
// call, mirroring the Python source adapter.
func (s *HTTPSource) Search(ctx context.Context, query, pipelineName string, topK int) ([]retrieval.Result, error) {
	if pipelineName == "" {
		pipelineName = s.cfg.DefaultPipeline
	}

	body, err := json.Marshal(searchRequest{Query: query, PipelineName: pipelineName, TopK: topK})
	if err != nil {
		return nil, apperr.New(apperr.RAG, "source.Search", fmt.Errorf("encode request: %w", err))
	}

	url := s.cfg.BaseURL + "/api/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.RAG, "source.Search", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.RAG, "source.Search", fmt.Errorf("network error calling retrieval service: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperr.New(apperr.RAG, "source.Search", fmt.Errorf("retrieval service returned status %d: %s", resp.StatusCode, string(data)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.New(apperr.RAG, "source.Search", fmt.Errorf("parse response: %w", err))
	}

	out := make([]retrieval.Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.ChunkID == "" || item.Text == "" {
			continue
		}
		meta := item.Extra
		if meta == nil {
			meta = map[string]any{}
		}
		meta["source"] = "retrieval_service"
		meta["pipeline"] = pipelineName
		out = append(out, retrieval.Result{ChunkID: item.ChunkID, Text: item.Text, Score: item.Score, Metadata: meta})
	}
	return out, nil
}
