package llmfilter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/retrievalservice/pipeline"
)

func TestFilter_ReturnsTruncatedResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(responseDTO{Results: []struct {
			ChunkID string `json:"chunk_id"`
			Text    string `json:"text"`
		}{
			{ChunkID: "c1", Text: "t1"},
			{ChunkID: "c2", Text: "t2"},
		}})
	}))
	defer server.Close()

	client := New(pipeline.LLMFilterConfig{BaseURL: server.URL, APIKey: "secret"})
	results, err := client.Filter(context.Background(), "q", []Candidate{{ChunkID: "c1", Text: "t1"}}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestFilter_UpstreamErrorIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(pipeline.LLMFilterConfig{BaseURL: server.URL})
	_, err := client.Filter(context.Background(), "q", nil, 5)
	require.Error(t, err)
}
