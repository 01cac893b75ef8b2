package retrievalservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/retrievalservice/llmfilter"
	"ragchat/internal/retrievalservice/pipeline"
	"ragchat/internal/retrievalservice/rerank"
	"ragchat/internal/retrievalservice/store"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(_ context.Context, chunks []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(chunks))
	for i := range chunks {
		vectors[i] = s.vector
	}
	return vectors, nil
}

type stubStore struct {
	byCollection map[string][]store.Hit
	err          error
}

func (s *stubStore) Search(_ context.Context, collection string, _ []float32, limit int) ([]store.Hit, error) {
	if s.err != nil {
		return nil, s.err
	}
	hits := s.byCollection[collection]
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func baseConfig() pipeline.Config {
	return pipeline.Config{
		EmbeddingModels: []pipeline.EmbeddingModelRef{
			{Provider: "openai", Model: "small", Collection: "docs"},
		},
	}.withDefaults()
}

func TestRetrieve_MergesAndDedupesAcrossEmbedders(t *testing.T) {
	cfg := pipeline.Config{
		EmbeddingModels: []pipeline.EmbeddingModelRef{
			{Provider: "openai", Model: "a", Collection: "docs"},
			{Provider: "openai", Model: "b", Collection: "docs"},
		},
	}.withDefaults()

	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "c1", Text: "t1", Score: 0.5}},
	}}
	svc := New(cfg, map[string]Embedder{
		"openai:a": &stubEmbedder{vector: []float32{0.1}},
		"openai:b": &stubEmbedder{vector: []float32{0.2}},
	}, st)

	resp, err := svc.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].ChunkID)
}

func TestRetrieve_FailingEmbedderContributesNoResults(t *testing.T) {
	cfg := pipeline.Config{
		EmbeddingModels: []pipeline.EmbeddingModelRef{
			{Provider: "openai", Model: "a", Collection: "docs"},
			{Provider: "openai", Model: "broken", Collection: "docs"},
		},
	}.withDefaults()

	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "c1", Text: "t1", Score: 0.5}},
	}}
	svc := New(cfg, map[string]Embedder{
		"openai:a":      &stubEmbedder{vector: []float32{0.1}},
		"openai:broken": &stubEmbedder{err: assertErr{}},
	}, st)

	resp, err := svc.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestRetrieve_DedupKeepsSmallerDistance(t *testing.T) {
	cfg := baseConfig()
	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {
			{ChunkID: "c1", Text: "t1", Score: 0.9},
			{ChunkID: "c1", Text: "t1-dup", Score: 0.2},
		},
	}}
	svc := New(cfg, map[string]Embedder{"openai:small": &stubEmbedder{vector: []float32{0.1}}}, st)

	resp, err := svc.Retrieve(context.Background(), "q", true)
	require.NoError(t, err)
	require.Len(t, resp.Debug.Deduplicated, 1)
	assert.Equal(t, 0.2, resp.Debug.Deduplicated[0].Score)
}

type stubReranker struct {
	results []rerank.Result
	err     error
}

func (r *stubReranker) Rerank(_ context.Context, _ string, _ []rerank.Candidate, _ int) ([]rerank.Result, error) {
	return r.results, r.err
}

func TestRetrieve_UsesRerankerWhenEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Rerank.APIURL = "http://reranker.example"

	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "c1", Text: "t1", Score: 0.9}},
	}}
	svc := New(cfg, map[string]Embedder{"openai:small": &stubEmbedder{vector: []float32{0.1}}}, st)
	svc.WithReranker(&stubReranker{results: []rerank.Result{{ChunkID: "c1", Text: "reranked"}}})

	resp, err := svc.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "reranked", resp.Results[0].Text)
}

func TestRetrieve_RerankFailureFallsBackToDeduplicated(t *testing.T) {
	cfg := baseConfig()
	cfg.Rerank.APIURL = "http://reranker.example"

	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "c1", Text: "t1", Score: 0.9}},
	}}
	svc := New(cfg, map[string]Embedder{"openai:small": &stubEmbedder{vector: []float32{0.1}}}, st)
	svc.WithReranker(&stubReranker{err: assertErr{}})

	resp, err := svc.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t1", resp.Results[0].Text)
}

type stubFilter struct {
	results []llmfilter.Result
	err     error
}

func (f *stubFilter) Filter(_ context.Context, _ string, _ []llmfilter.Candidate, _ int) ([]llmfilter.Result, error) {
	return f.results, f.err
}

func TestRetrieve_UsesLLMFilterWhenEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.LLMFilter.Model = "gpt-filter"

	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "c1", Text: "t1", Score: 0.9}, {ChunkID: "c2", Text: "t2", Score: 0.1}},
	}}
	svc := New(cfg, map[string]Embedder{"openai:small": &stubEmbedder{vector: []float32{0.1}}}, st)
	svc.WithLLMFilter(&stubFilter{results: []llmfilter.Result{{ChunkID: "c2", Text: "t2"}}})

	resp, err := svc.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c2", resp.Results[0].ChunkID)
}

func TestRetrieve_ChunksMissingIDAreDropped(t *testing.T) {
	cfg := baseConfig()
	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "", Text: "no id"}, {ChunkID: "c1", Text: "has id"}},
	}}
	svc := New(cfg, map[string]Embedder{"openai:small": &stubEmbedder{vector: []float32{0.1}}}, st)

	resp, err := svc.Retrieve(context.Background(), "q", false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].ChunkID)
}

func TestRetrieve_DebugModeCarriesTimingAndStages(t *testing.T) {
	cfg := baseConfig()
	st := &stubStore{byCollection: map[string][]store.Hit{
		"docs": {{ChunkID: "c1", Text: "t1", Score: 0.1}},
	}}
	svc := New(cfg, map[string]Embedder{"openai:small": &stubEmbedder{vector: []float32{0.1}}}, st)

	resp, err := svc.Retrieve(context.Background(), "q", true)
	require.NoError(t, err)
	require.NotNil(t, resp.Debug)
	assert.Contains(t, resp.Debug.Timing, "embedding_total")
	assert.Contains(t, resp.Debug.Timing, "deduplication")
}
