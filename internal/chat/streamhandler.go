package chat

import "ragchat/internal/llm"

// streamHandler adapts callback funcs to llm.StreamHandler, mirroring the
// same narrow-adapter shape the non-streaming engine used.
type streamHandler struct {
	onDelta          func(string)
	onToolCall       func(llm.ToolCall)
	onImage          func(llm.GeneratedImage)
	onThoughtSummary func(string)
}

func (h *streamHandler) OnDelta(content string) {
	if h.onDelta != nil {
		h.onDelta(content)
	}
}

func (h *streamHandler) OnToolCall(tc llm.ToolCall) {
	if h.onToolCall != nil {
		h.onToolCall(tc)
	}
}

func (h *streamHandler) OnImage(img llm.GeneratedImage) {
	if h.onImage != nil {
		h.onImage(img)
	}
}

func (h *streamHandler) OnThoughtSummary(summary string) {
	if h.onThoughtSummary != nil {
		h.onThoughtSummary(summary)
	}
}
