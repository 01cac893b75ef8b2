// Command chatservice exposes the streaming chat orchestrator (§4.E)
// over HTTP: POST /agent/message/stream for the tool-augmented SSE
// conversation loop, POST /agent/generate-title for a short title, and
// GET /health for liveness. Conversation history is request-scoped
// (§1 Non-goals: no persistent conversation storage), so every call
// carries the full message list it needs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"ragchat/internal/chat"
	"ragchat/internal/chatmsg"
	"ragchat/internal/llm"
	"ragchat/internal/observability"
	"ragchat/internal/wiring"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	svc, err := wiring.BuildChatService(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chat service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("chat service shutdown error")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/agent/message/stream", handleMessageStream(svc))
	mux.HandleFunc("/agent/generate-title", handleGenerateTitle(svc))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("chatservice listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintln(w, "ok")
}

type fileInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type messageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamRequest struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Messages  []messageInput `json:"messages"`
	Files     []fileInput    `json:"files"`
}

func handleMessageStream(svc *wiring.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req streamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		history := make([]llm.Message, 0, len(req.Messages))
		for _, m := range req.Messages {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
		files := make([]chatmsg.File, 0, len(req.Files))
		for _, f := range req.Files {
			files = append(files, chatmsg.File{Name: f.Name, Content: f.Content})
		}

		conversation := svc.Processor.Prepare(chatmsg.Request{Message: req.Message, Files: files, History: history})
		system := svc.Processor.BuildSystemPrompt(toolDescriptors(svc))

		events := svc.Orchestrator.Stream(r.Context(), system, conversation)
		for ev := range events {
			writeSSEEvent(w, ev)
			flusher.Flush()
		}
	}
}

func toolDescriptors(svc *wiring.ChatService) []chatmsg.ToolDescriptor {
	schemas := svc.Registry.DefinitionsForLLM()
	out := make([]chatmsg.ToolDescriptor, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, chatmsg.ToolDescriptor{Name: s.Name, Description: s.Description})
	}
	return out
}

func writeSSEEvent(w http.ResponseWriter, ev chat.Event) {
	payload := map[string]any{"type": ev.Type}
	switch ev.Type {
	case chat.EventChunk:
		payload["content"] = ev.Content
	case chat.EventToolCallStart, chat.EventToolCallEnd:
		payload["tool_name"] = ev.ToolName
		payload["tool_call_id"] = ev.ToolCallID
		if ev.Result != nil {
			payload["result"] = ev.Result
		}
	case chat.EventToolCallError:
		payload["tool_name"] = ev.ToolName
		payload["tool_call_id"] = ev.ToolCallID
		payload["error"] = ev.Error
	case chat.EventError:
		payload["content"] = ev.Content
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

type titleRequest struct {
	Messages []messageInput `json:"messages"`
}

func handleGenerateTitle(svc *wiring.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req titleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var transcript string
		for _, m := range req.Messages {
			transcript += m.Role + ": " + m.Content + "\n"
		}
		prompt := "Write a concise 3-6 word title summarizing this conversation. Reply with only the title.\n\n" + transcript

		msg, err := svc.Provider.Chat(r.Context(), []llm.Message{{Role: "user", Content: prompt}}, nil, svc.Config.LLMClient.OpenAI.Model)
		if err != nil {
			observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("generate_title_failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"title": msg.Content})
	}
}
