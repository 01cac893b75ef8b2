// Package toolexec implements the tool executor and result formatter
// (§4.C): given a batch of tool calls and the mutable conversation, it
// dispatches each call (concurrently, bounded), emits start/end/error
// events, and appends tool messages in the original call order so the
// assistant.tool_calls[i] <-> tool[i] pairing required by chat-completion
// APIs is preserved.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ragchat/internal/llm"
	"ragchat/internal/observability"
)

// EventType enumerates the events emitted during dispatch (§4.C, §4.E).
type EventType string

const (
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"
	EventToolCallError EventType = "tool_call_error"
)

// Event is a single executor notification.
type Event struct {
	Type       EventType
	ToolName   string
	ToolCallID string
	Input      json.RawMessage
	Result     any
	Error      string
	Raw        string
}

// Caller is the minimal surface the executor needs from the function
// registry; toolregistry.Registry satisfies it.
type Caller interface {
	Call(ctx context.Context, name string, raw json.RawMessage, history []llm.Message) (any, error)
}

// Executor runs tool calls against a Caller with bounded parallelism. It
// holds no per-request state, so one Executor is safely shared across
// concurrent requests; per-request event delivery goes through the ctx
// passed to Dispatch (see WithEventSink).
type Executor struct {
	Registry       Caller
	Formatter      *Formatter
	MaxParallelism int // 0 means "as many as the batch size"
}

// New returns an Executor with a default formatter.
func New(registry Caller, cfg FormatterConfig) *Executor {
	return &Executor{Registry: registry, Formatter: NewFormatter(cfg)}
}

type eventSinkKey struct{}

// WithEventSink attaches a per-request event callback to ctx. Dispatch
// calls it (if present) for every tool_call_start/end/error it emits.
func WithEventSink(ctx context.Context, fn func(Event)) context.Context {
	return context.WithValue(ctx, eventSinkKey{}, fn)
}

func emit(ctx context.Context, ev Event) {
	if fn, ok := ctx.Value(eventSinkKey{}).(func(Event)); ok && fn != nil {
		fn(ev)
	}
}

// Dispatch executes toolCalls against the current conversation, returning
// one tool message per call in the same order as toolCalls.
func (e *Executor) Dispatch(ctx context.Context, history []llm.Message, toolCalls []llm.ToolCall) []llm.Message {
	if len(toolCalls) == 0 {
		return nil
	}

	maxParallel := e.MaxParallelism
	if maxParallel <= 0 || maxParallel > len(toolCalls) {
		maxParallel = len(toolCalls)
	}

	results := make([]llm.Message, len(toolCalls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		i, tc := i, tc
		emit(ctx, Event{Type: EventToolCallStart, ToolName: tc.Name, ToolCallID: tc.ID, Input: tc.Args})

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.executeOne(ctx, history, tc)
		}()
	}
	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, history []llm.Message, tc llm.ToolCall) llm.Message {
	var args any
	if len(tc.Args) > 0 {
		if err := json.Unmarshal(tc.Args, &args); err != nil {
			emit(ctx, Event{Type: EventToolCallError, ToolName: tc.Name, ToolCallID: tc.ID, Error: "invalid arguments", Raw: string(tc.Args)})
			return llm.Message{Role: "tool", ToolID: tc.ID, Content: fmt.Sprintf("Error: invalid arguments: %v", err)}
		}
	}

	observability.LoggerWithTrace(ctx).Info().Str("tool", tc.Name).RawJSON("args", observability.RedactJSON(tc.Args)).Msg("tool_dispatch")

	result, err := e.Registry.Call(ctx, tc.Name, tc.Args, history)
	if err != nil {
		emit(ctx, Event{Type: EventToolCallError, ToolName: tc.Name, ToolCallID: tc.ID, Error: err.Error()})
		return llm.Message{Role: "tool", ToolID: tc.ID, Content: fmt.Sprintf("Error: %v", err)}
	}

	formatted := e.Formatter.Format(result, tc.Name)
	emit(ctx, Event{Type: EventToolCallEnd, ToolName: tc.Name, ToolCallID: tc.ID, Result: result})
	return llm.Message{Role: "tool", ToolID: tc.ID, Content: formatted}
}
