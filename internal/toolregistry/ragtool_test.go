package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/rag"
	"ragchat/internal/retrieval"
)

type stubRAGRetriever struct {
	out rag.Output
	err error
}

func (s *stubRAGRetriever) Retrieve(_ context.Context, query string, _ []retrieval.HistoryTurn) (rag.Output, error) {
	if s.err != nil {
		return rag.Output{}, s.err
	}
	out := s.out
	out.Query = query
	return out, nil
}

func TestRAGSearchHandler_DefaultsName(t *testing.T) {
	h := NewRAGSearchHandler("", &stubRAGRetriever{})
	assert.Equal(t, "retrieval_service_search", h.Name())
}

func TestRAGSearchHandler_CallReturnsResults(t *testing.T) {
	h := NewRAGSearchHandler("retrieval_service_search", &stubRAGRetriever{
		out: rag.Output{Results: []retrieval.Result{{ChunkID: "c1", Text: "t1"}}},
	})

	raw, _ := json.Marshal(map[string]string{"query": "what is x"})
	res, err := h.Call(context.Background(), raw, CallContext{})
	require.NoError(t, err)

	m := res.(map[string]any)
	assert.Equal(t, "what is x", m["query"])
	results := m["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0]["chunk_id"])
}

func TestRAGSearchHandler_WantsHistoryIsTrue(t *testing.T) {
	h := NewRAGSearchHandler("", &stubRAGRetriever{})
	assert.True(t, h.WantsHistory())
}
