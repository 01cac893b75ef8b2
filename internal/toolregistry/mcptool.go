package toolregistry

import (
	"context"
	"encoding/json"
	"strings"

	"ragchat/internal/transport"
)

// MCPHandler adapts a single tool exposed by a transport.Supervisor into a
// Handler, name-spaced as "<server>_<tool>" to avoid collisions across
// servers (§4.A/§4.B).
type MCPHandler struct {
	server string
	sup    *transport.Supervisor
	tool   transport.Tool
}

// NewMCPHandler wraps one tool descriptor from sup.
func NewMCPHandler(server string, sup *transport.Supervisor, tool transport.Tool) *MCPHandler {
	return &MCPHandler{server: server, sup: sup, tool: tool}
}

func (h *MCPHandler) Name() string {
	return sanitizeName(h.server + "_" + h.tool.Name)
}

func (h *MCPHandler) Description() string { return h.tool.Description }

func (h *MCPHandler) JSONSchema() map[string]any {
	if h.tool.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return h.tool.InputSchema
}

// WantsHistory is always false for MCP-backed tools: remote servers have no
// access to in-process conversation state.
func (h *MCPHandler) WantsHistory() bool { return false }

func (h *MCPHandler) Call(ctx context.Context, raw json.RawMessage, _ CallContext) (any, error) {
	var args any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := h.sup.Call(ctx, h.tool.Name, args)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"ok":   !res.IsError,
		"text": res.Text,
	}
	if res.Structured != nil {
		out["structured"] = res.Structured
	}
	return out, nil
}

func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
