// Package store wraps a vector-store backend for the retrieval
// service core (§4.J step 2). Only a narrow search contract is
// exposed: the retrieval service never upserts or deletes through
// this path, it only reads.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Hit is one vector-search result, extracted from a Qdrant point.
// Text and ChunkID come from the payload; Score is the raw distance
// (lower is better for cosine/euclid as configured).
type Hit struct {
	ChunkID string
	Text    string
	Score   float64
}

const (
	payloadChunkIDField = "chunk_id"
	payloadTextField    = "text"
)

// Store searches a Qdrant cluster. A single Store instance is shared
// across pipelines that point at the same address; the collection
// name is passed per-call since each embedding model may target a
// different collection (§3 EmbeddingModelRef.Collection).
type Store struct {
	client *qdrant.Client
}

// New connects to addr, an "host:port" or "http(s)://host:port" DSN,
// grounded on the teacher's Qdrant DSN parsing. Query parameters in
// addr are not read; the API key, if any, comes from apiKey.
func New(addr, apiKey string) (*Store, error) {
	host, port, useTLS, err := parseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("store.New: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port, UseTLS: useTLS}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("store.New: create client: %w", err)
	}
	return &Store{client: client}, nil
}

func parseAddr(addr string) (host string, port int, useTLS bool, err error) {
	parsed, err := url.Parse(addr)
	if err != nil || parsed.Host == "" {
		// bare "host:port" with no scheme: url.Parse reads the host as a
		// scheme (or fails on an IP), so parse it as a plain http address
		parsed, err = url.Parse("http://" + addr)
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("parse address: %w", err)
	}
	host = parsed.Hostname()
	if host == "" {
		host = addr
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	portNum, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid port: %w", err)
	}
	return host, portNum, parsed.Scheme == "https", nil
}

// Close releases the underlying client connection.
func (s *Store) Close() error { return s.client.Close() }

// Search runs a dense-vector query against collection, returning up
// to limit hits. Hits missing a chunk_id payload field are dropped
// (§4.J step 2); a missing distance defaults to 0.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	lim := uint64(limit)
	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store.Search: %w", err)
	}

	hits := make([]Hit, 0, len(result))
	for _, point := range result {
		chunkID, text, ok := extractPayload(point.Payload)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ChunkID: chunkID, Text: text, Score: float64(point.Score)})
	}
	return hits, nil
}

// extractPayload pulls chunk_id and text out of a Qdrant payload map,
// mirroring the Python `_format_hit_result`'s dict-or-object
// extraction (Go payloads are always a map, so only the dict branch
// applies). ok is false when chunk_id is absent, signalling the
// caller to log-and-drop the hit.
func extractPayload(payload map[string]*qdrant.Value) (chunkID, text string, ok bool) {
	if payload == nil {
		return "", "", false
	}
	idVal, present := payload[payloadChunkIDField]
	if !present {
		return "", "", false
	}
	chunkID = valueToString(idVal)
	if chunkID == "" {
		return "", "", false
	}
	if textVal, present := payload[payloadTextField]; present {
		text = valueToString(textVal)
	}
	return chunkID, text, true
}

func valueToString(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	if s := v.GetStringValue(); s != "" {
		return s
	}
	if i := v.GetIntegerValue(); i != 0 {
		return strconv.FormatInt(i, 10)
	}
	return ""
}
