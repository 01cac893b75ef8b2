// Package retrieval defines the shared result type and source/strategy
// interfaces used by the RAG orchestrator (§4.F, §4.G, §4.I): sources
// fetch candidate chunks, strategies decide how many rounds/variants of
// fetching to run, and the orchestrator dedupes and ranks what comes back.
package retrieval

import "context"

// Result is one retrieved chunk, normalized across every source
// implementation so strategies and the RAG orchestrator never need to
// know which backend produced it.
type Result struct {
	ChunkID  string
	Text     string
	Score    float64 // distance metric: lower is better, matching the vector store's convention
	Metadata map[string]any
}

// Source fetches candidate chunks for a query against a named pipeline.
type Source interface {
	Search(ctx context.Context, query, pipelineName string, topK int) ([]Result, error)
}

// Strategy decides how to call one or more Sources to answer a query,
// potentially issuing several rounds or parallel variants before
// returning a merged, deduplicated result set.
type Strategy interface {
	Retrieve(ctx context.Context, query string, history []HistoryTurn) ([]Result, error)
}

// HistoryTurn is the minimal conversation shape strategies need for query
// refinement, decoupled from llm.Message so this package doesn't import
// internal/llm.
type HistoryTurn struct {
	Role    string
	Content string
}

// Deduplicate keeps the first occurrence of each ChunkID, preserving
// order. A Result with an empty ChunkID is never deduplicated against
// another empty-ChunkID result.
func Deduplicate(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.ChunkID == "" {
			out = append(out, r)
			continue
		}
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		out = append(out, r)
	}
	return out
}

// Merge flattens several result batches and deduplicates the result,
// keeping the first occurrence of each chunk across all batches.
func Merge(batches ...[]Result) []Result {
	var all []Result
	for _, b := range batches {
		all = append(all, b...)
	}
	return Deduplicate(all)
}
