// Package chat implements the streaming chat orchestrator (§4.E): an outer
// loop over streaming LLM completions that detects and executes tool
// calls, re-entering the loop until a final assistant turn, the iteration
// cap, or an unrecoverable error.
package chat

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ragchat/internal/apperr"
	"ragchat/internal/llm"
	"ragchat/internal/observability"
	"ragchat/internal/toolexec"
)

const defaultMaxToolIterations = 4

// apologyChunk is the user-facing text emitted when every recovery path is
// exhausted (§4.E termination).
const apologyChunk = "I'm sorry, I wasn't able to put together a response for that. Please try rephrasing your question."

// ToolSchemaSource supplies the enabled tool set for a request; satisfied
// by toolregistry.Registry.
type ToolSchemaSource interface {
	DefinitionsForLLM() []llm.ToolSchema
}

// Config tunes the orchestrator.
type Config struct {
	MaxToolIterations int
	Model             string
	Formatter         toolexec.FormatterConfig
}

func (c Config) withDefaults() Config {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = defaultMaxToolIterations
	}
	return c
}

// Orchestrator runs the outer tool-calling loop described in §4.E.
type Orchestrator struct {
	cfg       Config
	provider  llm.Provider
	tools     ToolSchemaSource
	executor  *toolexec.Executor
	formatter *toolexec.Formatter
}

// New constructs an Orchestrator. executor.Registry must already be wired
// to tools so schemas returned by tools.DefinitionsForLLM() are callable.
func New(cfg Config, provider llm.Provider, tools ToolSchemaSource, executor *toolexec.Executor) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		provider:  provider,
		tools:     tools,
		executor:  executor,
		formatter: toolexec.NewFormatter(cfg.Formatter),
	}
}

// Stream runs the orchestrator for one request, returning a channel of
// events. The channel is closed after a terminal "done" or "error" event,
// or immediately if ctx is cancelled first. Events are pull-based: the
// orchestrator blocks on send so a slow consumer applies backpressure, and
// checks ctx between sends so a cancelled consumer unblocks it promptly.
func (o *Orchestrator) Stream(ctx context.Context, system string, conversation []llm.Message) <-chan Event {
	out := make(chan Event)
	go o.run(ctx, system, conversation, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, system string, conversation []llm.Message, out chan<- Event) {
	defer close(out)
	log := observability.LoggerWithTrace(ctx)

	msgs := append([]llm.Message{{Role: "system", Content: system}}, conversation...)
	schemas := o.tools.DefinitionsForLLM()
	noInfoFound := false

	for iteration := 1; iteration <= o.cfg.MaxToolIterations; iteration++ {
		ctx, span := observability.StartSpan(ctx, fmt.Sprintf("chat.iteration.%d", iteration))
		span.SetAttributes(attribute.Int("chat.iteration", iteration), attribute.Int("chat.tools", len(schemas)))

		text, toolCalls, err := o.runIteration(ctx, msgs, schemas, out)
		span.End()

		if err != nil {
			if !send(ctx, out, Event{Type: EventError, Content: err.Error()}) {
				return
			}
			return
		}

		if len(toolCalls) > 0 {
			assistantMsg := llm.Message{Role: "assistant", Content: text, ToolCalls: toolCalls}
			msgs = append(msgs, assistantMsg)

			dispatchCtx := toolexec.WithEventSink(ctx, func(ev toolexec.Event) {
				if ev.Type == toolexec.EventToolCallStart {
					// Already emitted with the assembled-tool-call list above.
					return
				}
				send(ctx, out, toolexecToChatEvent(ev))
			})
			toolMsgs := o.executor.Dispatch(dispatchCtx, msgs, toolCalls)
			msgs = append(msgs, toolMsgs...)

			var contents []string
			for _, m := range toolMsgs {
				contents = append(contents, m.Content)
			}
			if toolexec.ToolsUsedButNoInfo(contents) {
				log.Debug().Msg("chat_tools_used_no_info")
				noInfoFound = true
			}
			continue
		}

		if text != "" {
			if noInfoFound && !toolexec.ResponseSuggestsContact(text, o.cfg.Formatter.FallbackContact) {
				suggestion := o.formatter.AppendFallbackSuggestion("")
				if suggestion != "" {
					if !send(ctx, out, Event{Type: EventChunk, Content: suggestion}) {
						return
					}
				}
			}
			if !send(ctx, out, Event{Type: EventDone}) {
				return
			}
			return
		}

		if iteration == 1 {
			o.runFallback(ctx, msgs, out)
			return
		}

		// No text, no tool calls, not the first iteration: nothing more to
		// try this round; let the loop continue toward the cap.
	}

	if !send(ctx, out, Event{Type: EventChunk, Content: apologyChunk}) {
		return
	}
	send(ctx, out, Event{Type: EventDone})
}

// runIteration issues one streaming completion, forwarding text chunks
// while no tool call has been detected and assembling any detected tool
// calls. It returns the accumulated text (only meaningful when no tool
// calls were produced) and the completed tool-call list.
func (o *Orchestrator) runIteration(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, out chan<- Event) (string, []llm.ToolCall, error) {
	acc := newToolCallAccumulator()
	var accumulatedText string
	toolCallDetected := false
	sendFailed := false

	handler := &streamHandler{
		onDelta: func(content string) {
			if toolCallDetected || sendFailed {
				return
			}
			accumulatedText += content
			if !send(ctx, out, Event{Type: EventChunk, Content: content}) {
				sendFailed = true
			}
		},
		onToolCall: func(tc llm.ToolCall) {
			toolCallDetected = true
			acc.Add(tc)
		},
	}

	if err := o.provider.ChatStream(ctx, msgs, schemas, o.cfg.Model, handler); err != nil {
		return "", nil, apperr.Wrap(apperr.LLM, "chat.runIteration", err)
	}
	if sendFailed {
		return "", nil, apperr.New(apperr.Transport, "chat.runIteration", fmt.Errorf("consumer disconnected"))
	}

	if !toolCallDetected {
		return accumulatedText, nil, nil
	}

	complete := acc.Complete()
	if len(complete) == 0 {
		complete = filterComplete(acc.MergeByName())
	}
	if len(complete) == 0 {
		send(ctx, out, Event{Type: EventToolCallError, Error: "tool call did not complete"})
		return accumulatedText, nil, nil
	}

	for _, tc := range complete {
		if !send(ctx, out, Event{Type: EventToolCallStart, ToolName: tc.Name, ToolCallID: tc.ID, Input: tc.Args}) {
			return "", nil, apperr.New(apperr.Transport, "chat.runIteration", fmt.Errorf("consumer disconnected"))
		}
	}

	return accumulatedText, complete, nil
}

func filterComplete(tcs []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		cp := tc
		if isComplete(&cp) {
			out = append(out, tc)
		}
	}
	return out
}

// runFallback re-issues the completion with tools stripped, per §4.E step
// 5: "If iteration is 1 and neither text nor tool calls arrived, perform
// one fallback". Always terminates the stream with a done or error event.
func (o *Orchestrator) runFallback(ctx context.Context, msgs []llm.Message, out chan<- Event) {
	var text string
	handler := &streamHandler{
		onDelta: func(content string) {
			text += content
			send(ctx, out, Event{Type: EventChunk, Content: content})
		},
	}
	if err := o.provider.ChatStream(ctx, msgs, nil, o.cfg.Model, handler); err != nil {
		send(ctx, out, Event{Type: EventError, Content: err.Error()})
		return
	}
	if text == "" {
		send(ctx, out, Event{Type: EventChunk, Content: apologyChunk})
	}
	send(ctx, out, Event{Type: EventDone})
}

func toolexecToChatEvent(ev toolexec.Event) Event {
	switch ev.Type {
	case toolexec.EventToolCallEnd:
		return Event{Type: EventToolCallEnd, ToolName: ev.ToolName, ToolCallID: ev.ToolCallID, Result: ev.Result}
	case toolexec.EventToolCallError:
		return Event{Type: EventToolCallError, ToolName: ev.ToolName, ToolCallID: ev.ToolCallID, Error: ev.Error}
	default:
		return Event{Type: EventToolCallStart, ToolName: ev.ToolName, ToolCallID: ev.ToolCallID, Input: ev.Input}
	}
}

// send delivers ev unless ctx is done first; returns false if the
// consumer disconnected, so callers can stop producing further events.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
