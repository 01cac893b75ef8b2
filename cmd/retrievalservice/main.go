// Command retrievalservice hosts the retrieval service core (§4.J) over
// HTTP: POST /api/search runs the embed/search/dedup/rerank/filter
// pipeline for one configured pipeline and returns {results}.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ragchat/internal/config"
	"ragchat/internal/observability"
	"ragchat/internal/wiring"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

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

	svc, err := wiring.BuildRetrievalService(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build retrieval service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("retrieval service shutdown error")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprintln(w, "ok") })
	mux.HandleFunc("/api/search", handleSearch(svc))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("retrievalservice listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

type searchRequest struct {
	Query        string `json:"query"`
	PipelineName string `json:"pipeline_name"`
	TopK         int    `json:"top_k"`
	Debug        bool   `json:"debug"`
}

type searchResultItem struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

type searchResponse struct {
	Results []searchResultItem `json:"results"`
	Debug   any                `json:"debug,omitempty"`
}

func handleSearch(svc *wiring.RetrievalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Query == "" {
			http.Error(w, "query is required", http.StatusBadRequest)
			return
		}

		resp, err := svc.Service.Retrieve(r.Context(), req.Query, req.Debug)
		if err != nil {
			observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("retrieval_search_failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		out := searchResponse{Results: make([]searchResultItem, len(resp.Results))}
		for i, item := range resp.Results {
			out.Results[i] = searchResultItem{ChunkID: item.ChunkID, Text: item.Text}
		}
		if req.Debug {
			out.Debug = resp.Debug
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
