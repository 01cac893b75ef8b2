// Package chatmsg implements the message processor (§4.D): it turns a raw
// chat request (message, file attachments, prior history) plus a
// configurable system-prompt template into the message list a single
// orchestrator iteration (§4.E) sends to the LLM.
package chatmsg

import (
	"fmt"
	"strings"

	"ragchat/internal/llm"
)

const (
	defaultMaxConversationTurns = 20
	defaultMaxFileContentSize   = 50_000
	defaultMaxTotalFileSize     = 150_000
)

// File is one uploaded attachment.
type File struct {
	Name    string
	Content string
}

// Request is the input to Prepare.
type Request struct {
	Message string
	Files   []File
	History []llm.Message
}

// ToolDescriptor is the minimal shape the system prompt builder needs from
// the function registry's enabled entries.
type ToolDescriptor struct {
	Name        string
	Description string
}

// ProcessorConfig tunes the size/turn limits the original hard-codes as
// module constants (kept as fields so deployments can adjust them).
type ProcessorConfig struct {
	MaxConversationTurns int
	MaxFileContentSize   int
	MaxTotalFileSize     int
	SystemPromptTemplate string
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.MaxConversationTurns <= 0 {
		c.MaxConversationTurns = defaultMaxConversationTurns
	}
	if c.MaxFileContentSize <= 0 {
		c.MaxFileContentSize = defaultMaxFileContentSize
	}
	if c.MaxTotalFileSize <= 0 {
		c.MaxTotalFileSize = defaultMaxTotalFileSize
	}
	if c.SystemPromptTemplate == "" {
		c.SystemPromptTemplate = "You are a helpful assistant."
	}
	return c
}

// Processor implements §4.D's four-step pipeline.
type Processor struct {
	cfg ProcessorConfig
}

func New(cfg ProcessorConfig) *Processor {
	return &Processor{cfg: cfg.withDefaults()}
}

// Prepare builds the final message list, including the new user turn, but
// not the system message (callers prepend BuildSystemPrompt's result).
func (p *Processor) Prepare(req Request) []llm.Message {
	userMessage := req.Message
	if fileBlock := p.formatFiles(req.Files); fileBlock != "" {
		if userMessage != "" {
			userMessage = userMessage + "\n\n" + fileBlock
		} else {
			userMessage = fileBlock
		}
	}

	filtered := filterHistory(req.History)
	if userMessage != "" {
		filtered = append(filtered, llm.Message{Role: "user", Content: userMessage})
	}

	return p.trim(filtered)
}

// filterHistory keeps only user/assistant messages and strips ToolCalls,
// ToolID, and everything else off assistant messages (§4.D step 2).
func filterHistory(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// trim keeps the last MaxConversationTurns messages, preserving a leading
// system message if present (§4.D step 3).
func (p *Processor) trim(messages []llm.Message) []llm.Message {
	max := p.cfg.MaxConversationTurns
	if len(messages) <= max {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == "system" {
		keep := max - 1
		if keep < 0 {
			keep = 0
		}
		tail := messages[len(messages)-keep:]
		out := make([]llm.Message, 0, 1+len(tail))
		out = append(out, messages[0])
		out = append(out, tail...)
		return out
	}
	return messages[len(messages)-max:]
}

// formatFiles concatenates file payloads into "[File: name]\ncontent"
// blocks, truncating per-file and in aggregate (§4.D step 1).
func (p *Processor) formatFiles(files []File) string {
	if len(files) == 0 {
		return ""
	}

	var parts []string
	total := 0
	for _, f := range files {
		if f.Content == "" {
			continue
		}
		content := truncate(f.Content, p.cfg.MaxFileContentSize)

		if total+len(content) > p.cfg.MaxTotalFileSize {
			remaining := p.cfg.MaxTotalFileSize - total
			if remaining > 0 {
				truncated := truncate(content, remaining)
				parts = append(parts, fmt.Sprintf("[File: %s]\n%s\n\n[Note: remaining file content omitted due to size limit]", f.Name, truncated))
			}
			break
		}

		parts = append(parts, fmt.Sprintf("[File: %s]\n%s", f.Name, content))
		total += len(content)
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n[Note: content truncated to %d characters]", max)
}

// BuildSystemPrompt substitutes the {tools} placeholder in the configured
// template with a bullet list of enabled tools, or appends the list under
// "Available Tools:" when the placeholder is absent (§4.D step 4).
func (p *Processor) BuildSystemPrompt(tools []ToolDescriptor) string {
	template := p.cfg.SystemPromptTemplate

	toolList := ""
	if len(tools) > 0 {
		lines := make([]string, 0, len(tools))
		for _, t := range tools {
			lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
		}
		toolList = strings.Join(lines, "\n")
	}

	if strings.Contains(template, "{tools}") {
		if toolList == "" {
			toolList = "No tools available."
		}
		return strings.ReplaceAll(template, "{tools}", toolList)
	}
	if toolList != "" {
		return fmt.Sprintf("%s\n\nAvailable Tools:\n%s", template, toolList)
	}
	return template
}
