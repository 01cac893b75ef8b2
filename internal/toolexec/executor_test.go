package toolexec

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/llm"
)

type stubCaller struct {
	mu    sync.Mutex
	calls []string
	fn    func(name string, raw json.RawMessage) (any, error)
}

func (s *stubCaller) Call(_ context.Context, name string, raw json.RawMessage, _ []llm.Message) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	return s.fn(name, raw)
}

func TestExecutor_PreservesCallOrderUnderConcurrency(t *testing.T) {
	caller := &stubCaller{fn: func(name string, raw json.RawMessage) (any, error) {
		return map[string]any{"results": []any{}}, nil
	}}
	ex := New(caller, FormatterConfig{})

	calls := []llm.ToolCall{
		{ID: "1", Name: "a", Args: json.RawMessage(`{}`)},
		{ID: "2", Name: "b", Args: json.RawMessage(`{}`)},
		{ID: "3", Name: "c", Args: json.RawMessage(`{}`)},
	}
	msgs := ex.Dispatch(context.Background(), nil, calls)
	require.Len(t, msgs, 3)
	assert.Equal(t, "1", msgs[0].ToolID)
	assert.Equal(t, "2", msgs[1].ToolID)
	assert.Equal(t, "3", msgs[2].ToolID)
}

func TestExecutor_InvalidArgumentsProducesErrorMessage(t *testing.T) {
	caller := &stubCaller{fn: func(name string, raw json.RawMessage) (any, error) {
		t.Fatal("should not be called with invalid args")
		return nil, nil
	}}
	ex := New(caller, FormatterConfig{})

	var events []Event
	ctx := WithEventSink(context.Background(), func(e Event) { events = append(events, e) })

	msgs := ex.Dispatch(ctx, nil, []llm.ToolCall{
		{ID: "1", Name: "a", Args: json.RawMessage(`not json`)},
	})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "invalid arguments")
	require.NotEmpty(t, events)
	assert.Equal(t, EventToolCallError, events[len(events)-1].Type)
}

func TestFormatter_NotFoundAnswerSuggestsOtherTool(t *testing.T) {
	f := NewFormatter(FormatterConfig{})
	out := f.Format(map[string]any{"found": false, "answer": nil}, "faq")
	assert.Contains(t, out, "Suggest trying another tool")
}

func TestFormatter_FoundAnswerWrapsWithGroundingInstruction(t *testing.T) {
	f := NewFormatter(FormatterConfig{})
	out := f.Format(map[string]any{"answer": "Paris is the capital of France."}, "faq")
	assert.Contains(t, out, "MUST answer strictly based on it")
	assert.Contains(t, out, "Paris is the capital of France.")
}

func TestFormatter_EmptyResultsExplicitNotFound(t *testing.T) {
	f := NewFormatter(FormatterConfig{})
	out := f.Format(map[string]any{"results": []any{}}, "retrieval_service_search")
	assert.Contains(t, out, "no relevant information was found")
}

func TestFormatter_RetrievalResultsCiteChunkID(t *testing.T) {
	f := NewFormatter(FormatterConfig{RetrievalToolName: "retrieval_service_search"})
	out := f.Format(map[string]any{"results": []any{
		map[string]any{"chunk_id": "doc-1#3", "text": "some grounded text"},
	}}, "retrieval_service_search")
	assert.Contains(t, out, "doc-1#3")
	assert.Contains(t, out, "some grounded text")
}

func TestFormatter_NonRetrievalResultsStillGrounded(t *testing.T) {
	f := NewFormatter(FormatterConfig{RetrievalToolName: "retrieval_service_search"})
	out := f.Format(map[string]any{"results": []any{map[string]any{"x": 1}}}, "other_tool")
	assert.Contains(t, out, "MUST answer strictly based on it")
}

func TestFormatter_StringPassthrough(t *testing.T) {
	f := NewFormatter(FormatterConfig{})
	assert.Equal(t, "hello", f.Format("hello", "any"))
}

func TestToolsUsedButNoInfo(t *testing.T) {
	assert.True(t, ToolsUsedButNoInfo([]string{"Tool result: no relevant information was found in the knowledge base."}))
	assert.False(t, ToolsUsedButNoInfo([]string{"here is your answer"}))
}

func TestAppendFallbackSuggestion(t *testing.T) {
	f := NewFormatter(FormatterConfig{FallbackContact: "support"})
	out := f.AppendFallbackSuggestion("I couldn't find that.")
	assert.Contains(t, out, "contact support")

	assert.True(t, ResponseSuggestsContact(out, "support"))
	assert.False(t, ResponseSuggestsContact("no mention here", "support"))
}
