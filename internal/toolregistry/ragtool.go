package toolregistry

import (
	"context"
	"encoding/json"

	"ragchat/internal/llm"
	"ragchat/internal/rag"
	"ragchat/internal/retrieval"
)

// RAGRetriever is the narrow contract internal/rag.Orchestrator satisfies;
// narrowed so this handler can be tested with a fake.
type RAGRetriever interface {
	Retrieve(ctx context.Context, query string, history []retrieval.HistoryTurn) (rag.Output, error)
}

// RAGSearchHandler exposes the RAG orchestrator (§4.I) to the model as a
// callable tool, named to match toolexec's default RetrievalToolName so
// the formatter recognizes it without extra configuration.
type RAGSearchHandler struct {
	name string
	rag  RAGRetriever
}

// NewRAGSearchHandler constructs the handler. name should match
// toolexec.FormatterConfig.RetrievalToolName ("retrieval_service_search"
// if left at its default).
func NewRAGSearchHandler(name string, retriever RAGRetriever) *RAGSearchHandler {
	if name == "" {
		name = "retrieval_service_search"
	}
	return &RAGSearchHandler{name: name, rag: retriever}
}

func (h *RAGSearchHandler) Name() string { return h.name }

func (h *RAGSearchHandler) Description() string {
	return "Search the knowledge base for information relevant to a query and return the most relevant chunks."
}

func (h *RAGSearchHandler) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query"},
		},
		"required": []string{"query"},
	}
}

// WantsHistory is true: the RAG orchestrator's query rewriter (§4.H) uses
// recent conversation turns to disambiguate the query.
func (h *RAGSearchHandler) WantsHistory() bool { return true }

func (h *RAGSearchHandler) Call(ctx context.Context, raw json.RawMessage, callCtx CallContext) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
	}

	history := toHistoryTurns(callCtx.ConversationHistory)
	out, err := h.rag.Retrieve(ctx, args.Query, history)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, map[string]any{"chunk_id": r.ChunkID, "text": r.Text})
	}

	resp := map[string]any{"query": out.Query, "results": results}
	if out.Error != "" {
		resp["error"] = out.Error
	}
	return resp, nil
}

func toHistoryTurns(messages []llm.Message) []retrieval.HistoryTurn {
	out := make([]retrieval.HistoryTurn, 0, len(messages))
	for _, m := range messages {
		out = append(out, retrieval.HistoryTurn{Role: m.Role, Content: m.Content})
	}
	return out
}
