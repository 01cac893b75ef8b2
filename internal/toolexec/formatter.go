package toolexec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatterConfig carries the two values the original formatter hard-coded
// by name (the RAG tool's name, and a fallback contact to suggest when
// every tool has come up empty) as configuration instead (§4.D supplement).
type FormatterConfig struct {
	RetrievalToolName string
	FallbackContact   string
}

// Formatter turns a raw tool result into LLM-facing text with explicit
// framing so the model can tell whether the tool found an answer (§4.C).
type Formatter struct {
	cfg FormatterConfig
}

func NewFormatter(cfg FormatterConfig) *Formatter {
	if cfg.RetrievalToolName == "" {
		cfg.RetrievalToolName = "retrieval_service_search"
	}
	return &Formatter{cfg: cfg}
}

// Format renders result for the given tool name, tool-agnostically by data
// shape (§4.C).
func (f *Formatter) Format(result any, toolName string) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]any:
		return f.formatObject(v, toolName)
	case nil:
		return "null"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func (f *Formatter) formatObject(m map[string]any, toolName string) string {
	if text, ok := m["text"].(string); ok {
		return text
	}

	if _, hasAnswer := m["answer"]; hasAnswer {
		return f.formatAnswer(m)
	}
	if _, hasFound := m["found"]; hasFound {
		return f.formatAnswer(m)
	}

	if results, ok := m["results"]; ok {
		return f.formatResults(results, toolName)
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b)
}

func (f *Formatter) formatAnswer(m map[string]any) string {
	answer, hasAnswer := m["answer"]
	found, hasFound := m["found"].(bool)
	if !hasFound {
		found = hasAnswer && answer != nil
	}

	if !found || answer == nil {
		msg, _ := m["message"].(string)
		if msg == "" {
			msg = "No matching answer was found."
		}
		return fmt.Sprintf("Tool result: %s. Suggest trying another tool.", msg)
	}

	return fmt.Sprintf(`The following is the complete tool answer. You MUST answer strictly based on it; do not add, invent, or guess.

%v`, answer)
}

func (f *Formatter) formatResults(results any, toolName string) string {
	list, ok := results.([]any)
	if !ok || len(list) == 0 {
		return "Tool result: no relevant information was found in the knowledge base.\n\n" +
			"You must: state clearly that no relevant information was found; do not invent or guess an answer; " +
			"suggest another tool if one is available."
	}

	if toolName == f.cfg.RetrievalToolName {
		return formatRetrievalResults(list)
	}

	b, err := json.MarshalIndent(list, "", "  ")
	resultsText := string(b)
	if err != nil {
		resultsText = fmt.Sprintf("%v", list)
	}
	return fmt.Sprintf(`The following is the complete tool result. You MUST answer strictly based on it; do not add, invent, or guess.

%s`, resultsText)
}

func formatRetrievalResults(list []any) string {
	var b strings.Builder
	b.WriteString("Retrieved documents:\n\n")
	for i, item := range list {
		doc, _ := item.(map[string]any)
		chunkID, _ := doc["chunk_id"].(string)
		if chunkID == "" {
			chunkID = "unknown"
		}
		text, _ := doc["text"].(string)
		fmt.Fprintf(&b, "[Document %d - ID: %s]\n%s\n\n", i+1, chunkID, text)
	}
	fmt.Fprintf(&b, "Found %d relevant document chunks.\n\n", len(list))
	b.WriteString("You must: answer strictly based on the document content above; cite sources by chunk_id; " +
		"do not add information not present in the documents; do not invent or guess any detail; " +
		"if the documents are insufficient, state clearly what is missing.")
	return b.String()
}

var notFoundMarkers = []string{
	"no relevant information was found",
	"not found",
	"no matching answer",
	"no relevant document",
}

// ToolsUsedButNoInfo reports whether any tool message in messages contains a
// not-found marker (§4.C heuristic).
func ToolsUsedButNoInfo(toolMessageContents []string) bool {
	for _, content := range toolMessageContents {
		lower := strings.ToLower(content)
		for _, marker := range notFoundMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// ResponseSuggestsContact reports whether content already names contact.
func ResponseSuggestsContact(content, contact string) bool {
	if contact == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower("contact "+contact))
}

// AppendFallbackSuggestion appends a single sentence suggesting the
// fallback contact, only meant to be called when ToolsUsedButNoInfo is true
// and ResponseSuggestsContact is false (§4.C).
func (f *Formatter) AppendFallbackSuggestion(response string) string {
	if f.cfg.FallbackContact == "" {
		return response
	}
	return strings.TrimRight(response, " \n") + fmt.Sprintf("\n\nIf this didn't answer your question, please contact %s for further help.", f.cfg.FallbackContact)
}
