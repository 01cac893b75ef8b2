package rerank

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

func TestRerank_ReturnsTruncatedResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var decoded request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		assert.Equal(t, "q", decoded.Query)
		assert.Len(t, decoded.Candidates, 2)

		_ = json.NewEncoder(w).Encode(responseDTO{Results: []struct {
			ChunkID string  `json:"chunk_id"`
			Text    string  `json:"text"`
			Score   float64 `json:"score"`
		}{
			{ChunkID: "c1", Text: "t1", Score: 0.9},
			{ChunkID: "c2", Text: "t2", Score: 0.4},
		}})
	}))
	defer server.Close()

	client := New(pipeline.RerankConfig{APIURL: server.URL})
	results, err := client.Rerank(context.Background(), "q", []Candidate{{ChunkID: "c1", Text: "t1"}, {ChunkID: "c2", Text: "t2"}}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestRerank_UpstreamErrorIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(pipeline.RerankConfig{APIURL: server.URL})
	_, err := client.Rerank(context.Background(), "q", nil, 5)
	require.Error(t, err)
}
