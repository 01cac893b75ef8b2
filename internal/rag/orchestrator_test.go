package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/rag/cache"
	"ragchat/internal/retrieval"
)

type stubStrategy struct {
	results []retrieval.Result
	err     error
	calls   int
}

func (s *stubStrategy) Retrieve(_ context.Context, _ string, _ []retrieval.HistoryTurn) ([]retrieval.Result, error) {
	s.calls++
	return s.results, s.err
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRetrieve_RejectsOverlongQuery(t *testing.T) {
	o := New(Config{Enabled: true, MaxQueryLength: 5}, nil, nil, cache.New(cache.Config{}), nil)
	_, err := o.Retrieve(context.Background(), "way too long", nil)
	require.Error(t, err)
}

func TestRetrieve_RejectsBlockedPattern(t *testing.T) {
	o := New(Config{Enabled: true, BlockedPatterns: []string{`(?i)drop table`}}, nil, nil, cache.New(cache.Config{}), nil)
	_, err := o.Retrieve(context.Background(), "please DROP TABLE users", nil)
	require.Error(t, err)
}

func TestRetrieve_TagsSensitiveWithoutRejecting(t *testing.T) {
	strat := &stubStrategy{results: []retrieval.Result{{ChunkID: "c1", Text: "t"}}}
	o := New(Config{Enabled: true, Strategy: "single_round", SensitivePatterns: []string{`ssn`}},
		map[string]retrieval.Strategy{"single_round": strat}, nil, cache.New(cache.Config{}), nil)

	out, err := o.Retrieve(context.Background(), "what is my ssn", nil)
	require.NoError(t, err)
	assert.True(t, out.Sensitive)
}

func TestRetrieve_SortsDedupesAndTruncates(t *testing.T) {
	strat := &stubStrategy{results: []retrieval.Result{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.1},
		{ChunkID: "c1", Score: 0.3},
	}}
	o := New(Config{Enabled: true, Strategy: "single_round", MergeKeepBestScore: true, MaxResults: 1},
		map[string]retrieval.Strategy{"single_round": strat}, nil, cache.New(cache.Config{}), nil)

	out, err := o.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c2", out.Results[0].ChunkID)
}

func TestRetrieve_FallbackOnErrorReturnsPartial(t *testing.T) {
	strat := &stubStrategy{err: assertErr{}}
	o := New(Config{Enabled: true, Strategy: "single_round", FallbackOnError: true},
		map[string]retrieval.Strategy{"single_round": strat}, nil, cache.New(cache.Config{}), nil)

	out, err := o.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, fallbackSource, out.Source)
}

func TestRetrieve_NoFallbackPropagatesError(t *testing.T) {
	strat := &stubStrategy{err: assertErr{}}
	o := New(Config{Enabled: true, Strategy: "single_round", FallbackOnError: false},
		map[string]retrieval.Strategy{"single_round": strat}, nil, cache.New(cache.Config{}), nil)

	_, err := o.Retrieve(context.Background(), "q", nil)
	require.Error(t, err)
}

func TestRetrieve_CacheHitSkipsStrategy(t *testing.T) {
	strat := &stubStrategy{results: []retrieval.Result{{ChunkID: "c1", Text: "t"}}}
	c := cache.New(cache.Config{})
	o := New(Config{Enabled: true, Strategy: "single_round", CacheEnabled: true},
		map[string]retrieval.Strategy{"single_round": strat}, nil, c, nil)

	_, err := o.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	_, err = o.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strat.calls)
}

func TestOutputGuardrail_RedactsSensitiveText(t *testing.T) {
	strat := &stubStrategy{results: []retrieval.Result{{ChunkID: "c1", Text: "call 555-1234 now"}}}
	o := New(Config{Enabled: true, Strategy: "single_round", FilterSensitiveInfo: true, SensitivePatterns: []string{`\d{3}-\d{4}`}},
		map[string]retrieval.Strategy{"single_round": strat}, nil, cache.New(cache.Config{}), nil)

	out, err := o.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.True(t, strings.Contains(out.Results[0].Text, "[REDACTED]"))
}

func TestOutputGuardrail_DropsBelowRelevanceFloor(t *testing.T) {
	strat := &stubStrategy{results: []retrieval.Result{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.1}}}
	o := New(Config{Enabled: true, Strategy: "single_round", ValidateRelevance: true, RelevanceFloor: 0.5},
		map[string]retrieval.Strategy{"single_round": strat}, nil, cache.New(cache.Config{}), nil)

	out, err := o.Retrieve(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "c2", out.Results[0].ChunkID)
}
