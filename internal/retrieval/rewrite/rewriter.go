// Package rewrite implements the LLM-backed query rewriter (§4.H): given
// a user query and recent conversation history, ask the model for a
// short, retrieval-optimized query, falling back to the original on any
// failure so a flaky rewrite never blocks the RAG pipeline.
package rewrite

import (
	"context"
	"fmt"
	"strings"

	"ragchat/internal/llm"
	"ragchat/internal/observability"
	"ragchat/internal/retrieval"
)

const minRewrittenLength = 2

// Config tunes the Rewriter.
type Config struct {
	Enabled bool
	Model   string
}

// Rewriter turns a user query plus recent history into a retrieval-
// optimized query via one non-streaming LLM call.
type Rewriter struct {
	cfg      Config
	provider llm.Provider
}

// New constructs a Rewriter. Disabled rewriters (cfg.Enabled == false)
// always return the original query unchanged.
func New(cfg Config, provider llm.Provider) *Rewriter {
	return &Rewriter{cfg: cfg, provider: provider}
}

// Rewrite returns an optimized query, or the original query if rewriting
// is disabled, there is no history to draw context from, the model
// returns an empty/too-short result, or the call fails.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []retrieval.HistoryTurn) string {
	if !r.cfg.Enabled || len(history) == 0 {
		return query
	}

	prompt := buildRewritePrompt(query, history)
	msg, err := r.provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, r.cfg.Model)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("query_rewrite_failed")
		return query
	}

	rewritten := strings.TrimSpace(msg.Content)
	if len(rewritten) < minRewrittenLength {
		observability.LoggerWithTrace(ctx).Warn().Msg("query_rewrite_empty_or_short")
		return query
	}
	return rewritten
}

func buildRewritePrompt(query string, history []retrieval.HistoryTurn) string {
	recent := history
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	var ctxLines []string
	for _, turn := range recent {
		content := turn.Content
		if len(content) > 200 {
			content = content[:200]
		}
		ctxLines = append(ctxLines, fmt.Sprintf("%s: %s", turn.Role, content))
	}

	return fmt.Sprintf(`You are a query optimization expert. Your task is to produce an optimized
search query from the user's question and the conversation history below.

Guidelines:
1. Pull out key entities: places, times, topics, people.
2. Fold in history: if the current question refers to something mentioned
   earlier, merge that context into the query.
3. Make vague questions concrete by filling in missing context.
4. Keep it short: a concise query of 2-10 words that is easy to search for.

Conversation history:
%s

Current question:
%s

Return only the optimized query, with no explanation or extra text.

Optimized query:
`, strings.Join(ctxLines, "\n"), query)
}
