package rag

import "ragchat/internal/retrieval/rewrite"

// Config tunes the RAG orchestrator's pipeline (§4.I). Every step past
// query rewrite can be disabled independently.
type Config struct {
	Enabled      bool
	Strategy     string // "single_round" | "multi_round" | "parallel"
	PipelineName string

	QueryRewriter rewrite.Config

	// Input guardrail
	MaxQueryLength    int
	BlockedPatterns   []string
	SensitivePatterns []string

	// Result processor
	MaxResults          int
	MergeKeepBestScore  bool

	// Output guardrail
	FilterSensitiveInfo bool
	ValidateRelevance   bool
	RelevanceFloor      float64 // distance metric: results scoring above this are dropped

	// Cache
	CacheEnabled bool
	CacheTTLSecs int

	FallbackOnError bool
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = "single_round"
	}
	if c.PipelineName == "" {
		c.PipelineName = "default"
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = 2000
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	return c
}
