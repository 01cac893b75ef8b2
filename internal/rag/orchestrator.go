// Package rag implements the RAG orchestrator (§4.I): input guardrail,
// cache lookup, query rewrite, strategy execution, result processing,
// output guardrail, cache write. Every step past the input guardrail can
// fail without failing the whole request when FallbackOnError is set.
package rag

import (
	"context"
	"fmt"
	"sort"

	"ragchat/internal/apperr"
	"ragchat/internal/observability"
	"ragchat/internal/rag/cache"
	"ragchat/internal/retrieval"
	"ragchat/internal/retrieval/rewrite"
)

// Output is the result of one RAG retrieval, mirroring the
// {query, results, error, source} shape the tool layer surfaces to the
// model (§8 scenarios).
type Output struct {
	Query     string
	Results   []retrieval.Result
	Error     string
	Source    string
	Sensitive bool
}

const fallbackSource = "rag_system"

// Orchestrator runs the pipeline in §4.I over a set of named strategies
// (one per §4.G strategy kind, keyed by Config.Strategy).
type Orchestrator struct {
	cfg               Config
	strategies        map[string]retrieval.Strategy
	rewriter          *rewrite.Rewriter
	cache             *cache.Cache
	sourceIdentifiers []string
}

// New constructs an Orchestrator. strategies must contain an entry for
// cfg.Strategy; sourceIdentifiers feeds the cache key (§9).
func New(cfg Config, strategies map[string]retrieval.Strategy, rewriter *rewrite.Rewriter, c *cache.Cache, sourceIdentifiers []string) *Orchestrator {
	return &Orchestrator{
		cfg:               cfg.withDefaults(),
		strategies:        strategies,
		rewriter:          rewriter,
		cache:             c,
		sourceIdentifiers: sourceIdentifiers,
	}
}

// Retrieve runs the full pipeline for one query.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, history []retrieval.HistoryTurn) (Output, error) {
	if !o.cfg.Enabled {
		return Output{Query: query}, nil
	}

	sensitive, err := o.checkInput(query)
	if err != nil {
		return Output{}, err
	}

	key := cache.Key(query, o.cfg.Strategy, o.sourceIdentifiers)
	if o.cfg.CacheEnabled {
		if entry, ok := o.cache.Get(ctx, key); ok {
			return Output{Query: entry.Query, Results: entry.Results, Source: fallbackSource, Sensitive: sensitive}, nil
		}
	}

	rewritten := query
	if o.rewriter != nil {
		rewritten = o.rewriter.Rewrite(ctx, query, history)
	}

	strat, ok := o.strategies[o.cfg.Strategy]
	if !ok {
		return Output{}, apperr.New(apperr.Configuration, "rag.Retrieve", fmt.Errorf("unknown strategy %q", o.cfg.Strategy))
	}

	results, err := strat.Retrieve(ctx, rewritten, history)
	if err != nil {
		wrapped := apperr.New(apperr.RAG, "rag.Retrieve", err)
		if o.cfg.FallbackOnError {
			observability.LoggerWithTrace(ctx).Warn().Err(wrapped).Msg("rag_strategy_failed_returning_partial")
			return Output{Query: query, Results: nil, Error: wrapped.Error(), Source: fallbackSource, Sensitive: sensitive}, nil
		}
		return Output{}, wrapped
	}

	results = o.processResults(results)
	results = o.applyOutputGuardrail(results)

	if o.cfg.CacheEnabled {
		o.cache.Set(ctx, key, cache.Entry{Query: rewritten, Results: results})
	}

	return Output{Query: rewritten, Results: results, Source: fallbackSource, Sensitive: sensitive}, nil
}

// processResults implements §4.I step 5: sort by score ascending
// (smaller distance is better), dedupe by chunk_id keeping the
// smallest-distance instance when MergeKeepBestScore, then truncate.
func (o *Orchestrator) processResults(results []retrieval.Result) []retrieval.Result {
	sorted := make([]retrieval.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })

	var deduped []retrieval.Result
	if o.cfg.MergeKeepBestScore {
		deduped = dedupeKeepBestScore(sorted)
	} else {
		deduped = retrieval.Deduplicate(sorted)
	}

	if o.cfg.MaxResults > 0 && len(deduped) > o.cfg.MaxResults {
		deduped = deduped[:o.cfg.MaxResults]
	}
	return deduped
}

// dedupeKeepBestScore keeps, for each chunk_id, the instance with the
// smallest score, preserving the position of that instance's first
// encounter relative to other chunk_ids.
func dedupeKeepBestScore(results []retrieval.Result) []retrieval.Result {
	best := make(map[string]retrieval.Result, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		if r.ChunkID == "" {
			order = append(order, fmt.Sprintf("__unkeyed_%d", len(order)))
			best[order[len(order)-1]] = r
			continue
		}
		existing, ok := best[r.ChunkID]
		if !ok {
			order = append(order, r.ChunkID)
			best[r.ChunkID] = r
			continue
		}
		if r.Score < existing.Score {
			best[r.ChunkID] = r
		}
	}

	out := make([]retrieval.Result, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}
