// Package retrievalservice implements the retrieval service core
// (§4.J): fan-out embed, vector search, dedup, optional rerank,
// optional LLM filter, format. Grounded on the Python
// retrieval_service.py control flow (ThreadPoolExecutor fan-out with
// per-embedder failure isolation, per-stage timing, stage input
// bounded by min(chunk_size, configured_top_k, len(input))).
package retrievalservice

import (
	"context"
	"sync"
	"time"

	"ragchat/internal/observability"
	"ragchat/internal/retrievalservice/llmfilter"
	"ragchat/internal/retrievalservice/pipeline"
	"ragchat/internal/retrievalservice/rerank"
	"ragchat/internal/retrievalservice/store"
)

// Chunk is one candidate flowing through the pipeline. Score and
// Embedder are internal working fields, never surfaced externally
// (§4.J invariant: only chunk_id and text leave the service).
type Chunk struct {
	ChunkID  string
	Text     string
	Score    float64
	Embedder string
}

// Result is the externally-visible shape (§4.J step 6).
type Result struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

// DebugTrace carries every intermediate stage's output and timing,
// returned only when the caller requests debug mode.
type DebugTrace struct {
	ModelResults map[string][]Chunk
	Deduplicated []Chunk
	Reranked     []Chunk
	Final        []Chunk
	Timing       map[string]time.Duration
}

// Response is the retrieval service's output for one query.
type Response struct {
	Query   string
	Results []Result
	Debug   *DebugTrace
}

// Embedder is the per-model embedding connector the service fans out
// to (implemented by internal/embeddings.Client).
type Embedder interface {
	Embed(ctx context.Context, chunks []string) ([][]float32, error)
}

// VectorStore is the narrow search contract the service needs
// (implemented by internal/retrievalservice/store.Store; satisfied by
// a fake in tests).
type VectorStore interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]store.Hit, error)
}

// Reranker is the contract internal/retrievalservice/rerank.Client
// satisfies, narrowed for testability.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []rerank.Candidate, topK int) ([]rerank.Result, error)
}

// LLMFilter is the contract internal/retrievalservice/llmfilter.Client
// satisfies, narrowed for testability.
type LLMFilter interface {
	Filter(ctx context.Context, query string, candidates []llmfilter.Candidate, topK int) ([]llmfilter.Result, error)
}

// namedEmbedder pairs an embedder with the key and collection it was
// configured under.
type namedEmbedder struct {
	name       string
	collection string
	embedder   Embedder
}

// Service runs one configured pipeline.
type Service struct {
	cfg       pipeline.Config
	embedders []namedEmbedder
	store     VectorStore
	reranker  Reranker
	filter    LLMFilter
}

// New constructs a Service. embedders must be keyed the same way
// cfg.EmbeddingModels is ordered (by pipeline.EmbeddingModelRef.Key()).
func New(cfg pipeline.Config, embedders map[string]Embedder, vectorStore VectorStore) *Service {
	cfg = cfg.withDefaults()
	named := make([]namedEmbedder, 0, len(cfg.EmbeddingModels))
	for _, ref := range cfg.EmbeddingModels {
		embedder, ok := embedders[ref.Key()]
		if !ok {
			continue
		}
		named = append(named, namedEmbedder{name: ref.Key(), collection: ref.Collection, embedder: embedder})
	}

	svc := &Service{cfg: cfg, embedders: named, store: vectorStore}
	if cfg.Rerank.IsEnabled() {
		svc.reranker = rerank.New(cfg.Rerank)
	}
	if cfg.LLMFilter.IsEnabled() {
		svc.filter = llmfilter.New(cfg.LLMFilter)
	}
	return svc
}

// WithReranker overrides the reranker (used by tests and by callers
// that construct their own rerank.Client-compatible fake).
func (s *Service) WithReranker(r Reranker) *Service { s.reranker = r; return s }

// WithLLMFilter overrides the LLM filter.
func (s *Service) WithLLMFilter(f LLMFilter) *Service { s.filter = f; return s }

// Retrieve runs the full §4.J pipeline for one query.
func (s *Service) Retrieve(ctx context.Context, query string, withDebug bool) (Response, error) {
	timing := map[string]time.Duration{}

	embedStart := time.Now()
	modelResults := s.searchWithAllEmbedders(ctx, query, timing)
	timing["embedding_total"] = time.Since(embedStart)

	var combined []Chunk
	for _, chunks := range modelResults {
		combined = append(combined, chunks...)
	}

	dedupStart := time.Now()
	deduplicated := deduplicateByChunkID(combined)
	timing["deduplication"] = time.Since(dedupStart)

	reranked := deduplicated
	if s.reranker != nil {
		rerankStart := time.Now()
		var err error
		reranked, err = s.rerankChunks(ctx, query, deduplicated)
		timing["reranking"] = time.Since(rerankStart)
		if err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Msg("retrieval_rerank_failed_using_deduplicated")
			reranked = deduplicated
		}
	}

	final := reranked
	if s.filter != nil {
		filterStart := time.Now()
		var err error
		final, err = s.filterWithLLM(ctx, query, reranked)
		timing["llm_filtering"] = time.Since(filterStart)
		if err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Msg("retrieval_llm_filter_failed_using_reranked")
			final = reranked
		}
	}

	results := formatFinalResults(final)

	resp := Response{Query: query, Results: results}
	if withDebug {
		resp.Debug = &DebugTrace{
			ModelResults: modelResults,
			Deduplicated: deduplicated,
			Reranked:     reranked,
			Final:        final,
			Timing:       timing,
		}
	}
	return resp, nil
}

// searchWithAllEmbedders embeds and searches across every configured
// model concurrently. A failing embedder or search contributes zero
// results rather than aborting the whole request (§4.J step 1).
func (s *Service) searchWithAllEmbedders(ctx context.Context, query string, timing map[string]time.Duration) map[string][]Chunk {
	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string][]Chunk, len(s.embedders))

	for _, e := range s.embedders {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			stageStart := time.Now()
			chunks := s.searchWithEmbedder(ctx, query, e)
			elapsed := time.Since(stageStart)

			mu.Lock()
			results[e.name] = chunks
			timing["embed_"+e.name] = elapsed
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (s *Service) searchWithEmbedder(ctx context.Context, query string, e namedEmbedder) []Chunk {
	log := observability.LoggerWithTrace(ctx)

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		log.Error().Err(err).Str("embedder", e.name).Msg("retrieval_embed_failed")
		return nil
	}

	limit := s.cfg.ChunkSizes.InitialSearch
	if s.cfg.Retrieval.TopKPerModel < limit {
		limit = s.cfg.Retrieval.TopKPerModel
	}

	hits, err := s.store.Search(ctx, e.collection, vectors[0], limit)
	if err != nil {
		log.Error().Err(err).Str("embedder", e.name).Msg("retrieval_search_failed")
		return nil
	}

	chunks := make([]Chunk, 0, len(hits))
	for _, hit := range hits {
		chunks = append(chunks, Chunk{ChunkID: hit.ChunkID, Text: hit.Text, Score: hit.Score, Embedder: e.name})
	}
	return chunks
}

// deduplicateByChunkID merges per-model hit lists, keeping the
// smaller-distance entry on collision (§4.J step 3, §8 dedup invariant).
func deduplicateByChunkID(chunks []Chunk) []Chunk {
	seen := make(map[string]Chunk, len(chunks))
	order := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.ChunkID == "" {
			continue
		}
		existing, ok := seen[c.ChunkID]
		if !ok {
			order = append(order, c.ChunkID)
			seen[c.ChunkID] = c
			continue
		}
		if c.Score < existing.Score {
			seen[c.ChunkID] = c
		}
	}
	out := make([]Chunk, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
	}
	return out
}

func (s *Service) rerankChunks(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error) {
	limit := min3(s.cfg.ChunkSizes.RerankInput, s.cfg.Retrieval.RerankTopK, len(chunks))
	candidates := make([]rerank.Candidate, limit)
	for i := 0; i < limit; i++ {
		candidates[i] = rerank.Candidate{ChunkID: chunks[i].ChunkID, Text: chunks[i].Text}
	}

	reranked, err := s.reranker.Rerank(ctx, query, candidates, s.cfg.Retrieval.RerankTopK)
	if err != nil {
		return nil, err
	}

	out := make([]Chunk, len(reranked))
	for i, r := range reranked {
		out[i] = Chunk{ChunkID: r.ChunkID, Text: r.Text, Score: r.Score}
	}
	return out, nil
}

func (s *Service) filterWithLLM(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error) {
	limit := min2(s.cfg.ChunkSizes.LLMFilterInput, len(chunks))
	candidates := make([]llmfilter.Candidate, limit)
	for i := 0; i < limit; i++ {
		candidates[i] = llmfilter.Candidate{ChunkID: chunks[i].ChunkID, Text: chunks[i].Text}
	}

	filtered, err := s.filter.Filter(ctx, query, candidates, s.cfg.Retrieval.FinalTopK)
	if err != nil {
		return nil, err
	}

	out := make([]Chunk, len(filtered))
	for i, r := range filtered {
		out[i] = Chunk{ChunkID: r.ChunkID, Text: r.Text}
	}
	return out, nil
}

// formatFinalResults restricts output to {chunk_id, text}, dropping
// chunks missing a chunk_id (§4.J step 6 invariant).
func formatFinalResults(chunks []Chunk) []Result {
	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		if c.ChunkID == "" {
			continue
		}
		results = append(results, Result{ChunkID: c.ChunkID, Text: c.Text})
	}
	return results
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func min3(a, b, c int) int {
	return min2(min2(a, b), c)
}
