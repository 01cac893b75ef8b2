package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"ragchat/internal/llm"
)

// toolCallAccumulator accretes tool-call fragments across stream deltas,
// keyed by id, and assembles the "complete" list at stream end (§4.E step
// 3-4). K-connectors in this module already flush fully-assembled
// llm.ToolCall values through OnToolCall, but a connector may still call it
// more than once per id (partial name/arguments across chunks) or supply an
// empty id when splitting a single call's arguments across fragments — the
// accumulator and merge pass exist for that case.
type toolCallAccumulator struct {
	order []string
	byID  map[string]*llm.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byID: make(map[string]*llm.ToolCall)}
}

// Add merges a fragment into the accumulator. Matching is by id when
// present; an empty id is treated as a fresh entry keyed by its position.
func (a *toolCallAccumulator) Add(frag llm.ToolCall) {
	key := frag.ID
	if key == "" {
		key = fmt.Sprintf("_anon_%d", len(a.order))
	}
	existing, ok := a.byID[key]
	if !ok {
		cp := frag
		a.byID[key] = &cp
		a.order = append(a.order, key)
		return
	}
	if frag.Name != "" {
		existing.Name = frag.Name
	}
	if frag.Args != "" {
		existing.Args = json.RawMessage(string(existing.Args) + string(frag.Args))
	}
	if frag.ThoughtSignature != "" {
		existing.ThoughtSignature = frag.ThoughtSignature
	}
}

func (a *toolCallAccumulator) Empty() bool { return len(a.order) == 0 }

// Complete returns the entries whose name is non-empty and whose arguments
// are either empty or valid JSON (§4.E step 4).
func (a *toolCallAccumulator) Complete() []llm.ToolCall {
	var out []llm.ToolCall
	for _, key := range a.order {
		tc := a.byID[key]
		if isComplete(tc) {
			out = append(out, *tc)
		}
	}
	return out
}

// MergeByName groups fragments sharing a non-empty name and concatenates
// their arguments in observed order, for providers that split a single
// call's arguments across fragments with no shared id (§4.E step 4).
func (a *toolCallAccumulator) MergeByName() []llm.ToolCall {
	byName := make(map[string]*llm.ToolCall)
	var nameOrder []string
	for _, key := range a.order {
		tc := a.byID[key]
		if tc.Name == "" {
			continue
		}
		if existing, ok := byName[tc.Name]; ok {
			existing.Args = json.RawMessage(string(existing.Args) + string(tc.Args))
			continue
		}
		cp := *tc
		byName[tc.Name] = &cp
		nameOrder = append(nameOrder, tc.Name)
	}
	out := make([]llm.ToolCall, 0, len(nameOrder))
	for _, name := range nameOrder {
		out = append(out, *byName[name])
	}
	return out
}

func isComplete(tc *llm.ToolCall) bool {
	if tc == nil || strings.TrimSpace(tc.Name) == "" {
		return false
	}
	if len(strings.TrimSpace(string(tc.Args))) == 0 {
		return true
	}
	var v any
	return json.Unmarshal(tc.Args, &v) == nil
}
