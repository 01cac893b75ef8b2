// Package pipeline defines PipelineConfig (§3) and the YAML-backed store
// that persists named pipelines (§6 persisted state): each pipeline
// bundles a vector-store collection, a set of embedding models, and
// optional rerank/LLM-filter endpoints.
package pipeline

import (
	"fmt"
	"strings"
)

// VectorStoreConfig points at the backing collection the service
// searches. Named after the Milvus config in the grounding original but
// generalized to any vector store address (the Go store implementation
// is Qdrant, see internal/retrievalservice/store).
type VectorStoreConfig struct {
	Addr       string
	APIKey     string
	Collection string
}

// RerankConfig configures the optional rerank stage (§4.J step 4).
// Rerank is enabled iff APIURL is non-empty (IsEnabled).
type RerankConfig struct {
	APIURL  string
	Model   string
	Timeout int // seconds
}

func (c RerankConfig) IsEnabled() bool { return strings.TrimSpace(c.APIURL) != "" }

// LLMFilterConfig configures the optional LLM-filter stage (§4.J step
// 5). Enabled iff BaseURL or Model is non-empty (IsEnabled).
type LLMFilterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (c LLMFilterConfig) IsEnabled() bool {
	return strings.TrimSpace(c.BaseURL) != "" || strings.TrimSpace(c.Model) != ""
}

// RetrievalParams tunes how many candidates flow through each stage.
type RetrievalParams struct {
	TopKPerModel int
	RerankTopK   int
	FinalTopK    int
}

func (p RetrievalParams) withDefaults() RetrievalParams {
	if p.TopKPerModel <= 0 {
		p.TopKPerModel = 10
	}
	if p.RerankTopK <= 0 {
		p.RerankTopK = 20
	}
	if p.FinalTopK <= 0 {
		p.FinalTopK = 10
	}
	return p
}

// ChunkSizes bounds how many candidates are submitted to each stage.
type ChunkSizes struct {
	InitialSearch  int
	RerankInput    int
	LLMFilterInput int
}

func (c ChunkSizes) withDefaults() ChunkSizes {
	if c.InitialSearch <= 0 {
		c.InitialSearch = 100
	}
	if c.RerankInput <= 0 {
		c.RerankInput = 50
	}
	if c.LLMFilterInput <= 0 {
		c.LLMFilterInput = 20
	}
	return c
}

// EmbeddingModelRef names one embedding model and the collection its
// vectors live in, replacing the Python original's ambiguous
// "provider:model" / "model:collection" / "provider:model:collection"
// string parsing with a single typed form resolved once at load time
// (§9 open question).
type EmbeddingModelRef struct {
	Provider   string
	Model      string
	Collection string
}

// ParseEmbeddingModelRef parses "provider:model" or "provider:model:collection".
// When collection is omitted, defaultCollection is used.
func ParseEmbeddingModelRef(raw, defaultCollection string) (EmbeddingModelRef, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		return EmbeddingModelRef{Provider: parts[0], Model: parts[1], Collection: defaultCollection}, nil
	case 3:
		return EmbeddingModelRef{Provider: parts[0], Model: parts[1], Collection: parts[2]}, nil
	default:
		return EmbeddingModelRef{}, fmt.Errorf("invalid embedding model ref %q: want provider:model or provider:model:collection", raw)
	}
}

func (r EmbeddingModelRef) Key() string { return r.Provider + ":" + r.Model }

// Config is a single named retrieval pipeline (§3 PipelineConfig).
type Config struct {
	VectorStore     VectorStoreConfig
	EmbeddingModels []EmbeddingModelRef
	Rerank          RerankConfig
	LLMFilter       LLMFilterConfig
	Retrieval       RetrievalParams
	ChunkSizes      ChunkSizes
}

func (c Config) withDefaults() Config {
	c.Retrieval = c.Retrieval.withDefaults()
	c.ChunkSizes = c.ChunkSizes.withDefaults()
	return c
}
