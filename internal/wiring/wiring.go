// Package wiring builds the dependency graph for cmd/chatservice,
// cmd/retrievalservice, and cmd/toolserver from a single loaded
// config.Config. It holds no package-level state; every exported
// constructor takes what it needs and returns a fully-wired value, so
// the container is built exactly once per process (§9 "Cyclic
// dependencies" / "Global mutable state").
package wiring

import (
	"context"
	"fmt"
	"time"

	"ragchat/internal/apperr"
	"ragchat/internal/chat"
	"ragchat/internal/chatmsg"
	"ragchat/internal/config"
	"ragchat/internal/embeddings"
	"ragchat/internal/llm"
	"ragchat/internal/llm/providers"
	"ragchat/internal/observability"
	"ragchat/internal/rag"
	"ragchat/internal/rag/cache"
	"ragchat/internal/retrieval"
	"ragchat/internal/retrieval/rewrite"
	"ragchat/internal/retrieval/source"
	"ragchat/internal/retrieval/strategy"
	"ragchat/internal/retrievalservice"
	"ragchat/internal/retrievalservice/pipeline"
	"ragchat/internal/retrievalservice/store"
	"ragchat/internal/toolexec"
	"ragchat/internal/toolregistry"
	"ragchat/internal/transport"
)

// ChatService bundles everything cmd/chatservice's HTTP handlers need.
type ChatService struct {
	Config      config.Config
	Provider    llm.Provider
	Registry    *toolregistry.Registry
	Processor   *chatmsg.Processor
	Orchestrator *chat.Orchestrator
	Supervisors []*transport.Supervisor
}

// BuildChatService loads no config itself; callers load and Validate cfg
// first so a configuration error fails fast, before any network dial.
func BuildChatService(ctx context.Context, cfg config.Config) (*ChatService, error) {
	httpClient := observability.NewHTTPClient(nil)

	llmProvider, err := providers.Build(cfg, httpClient)
	if err != nil {
		return nil, err
	}

	registry := toolregistry.New()
	if err := registry.LoadFromYAML(cfg.FunctionRegistryPath); err != nil {
		return nil, err
	}

	namedSupervisors, err := buildSupervisors(ctx, cfg)
	if err != nil {
		return nil, err
	}
	supervisors := make([]*transport.Supervisor, 0, len(namedSupervisors))
	for _, ns := range namedSupervisors {
		supervisors = append(supervisors, ns.supervisor)
		tools, err := ns.supervisor.ListTools(ctx)
		if err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("server", ns.name).Msg("mcp_list_tools_failed")
			continue
		}
		for _, tool := range tools {
			handler := toolregistry.NewMCPHandler(ns.name, ns.supervisor, tool)
			registry.Register(toolregistry.Definition{Handler: handler, Enabled: true})
		}
	}

	ragOrchestrator, err := BuildRAGOrchestrator(cfg)
	if err != nil {
		return nil, err
	}
	registry.Register(toolregistry.Definition{
		Handler: toolregistry.NewRAGSearchHandler("retrieval_service_search", ragOrchestrator),
		Enabled: cfg.RAG.Enabled,
	})

	formatterCfg := toolexec.FormatterConfig{
		RetrievalToolName: "retrieval_service_search",
		FallbackContact:   cfg.FallbackContact,
	}
	executor := toolexec.New(registry, formatterCfg)

	chatCfg := chat.Config{Model: cfg.LLMClient.OpenAI.Model, Formatter: formatterCfg}
	orchestrator := chat.New(chatCfg, llmProvider, registry, executor)

	processor := chatmsg.New(chatmsg.ProcessorConfig{})

	return &ChatService{
		Config:       cfg,
		Provider:     llmProvider,
		Registry:     registry,
		Processor:    processor,
		Orchestrator: orchestrator,
		Supervisors:  supervisors,
	}, nil
}

// Close tears down every long-lived connection a ChatService holds
// (§5 "Resource cleanup").
func (c *ChatService) Close() error {
	var first error
	for _, sup := range c.Supervisors {
		if err := sup.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// namedSupervisor pairs a connected Supervisor with the server name its
// tools are name-spaced under (§4.A/§4.B).
type namedSupervisor struct {
	name       string
	supervisor *transport.Supervisor
}

func buildSupervisors(ctx context.Context, cfg config.Config) ([]namedSupervisor, error) {
	servers, err := config.LoadMCPServers(cfg.MCPServersPath)
	if err != nil {
		return nil, err
	}
	supervisors := make([]namedSupervisor, 0, len(servers))
	for _, srv := range servers {
		sup := transport.New(srv)
		if err := sup.Connect(ctx); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("server", srv.Name).Msg("mcp_connect_failed")
			continue
		}
		supervisors = append(supervisors, namedSupervisor{name: srv.Name, supervisor: sup})
	}
	return supervisors, nil
}

// BuildRAGOrchestrator constructs the RAG orchestrator (§4.I) with its
// source adapter, strategy set, query rewriter, and cache, all driven by
// cfg.RAG and cfg.RetrievalServiceURL.
func BuildRAGOrchestrator(cfg config.Config) (*rag.Orchestrator, error) {
	httpSource := source.NewHTTPSource(source.Config{
		BaseURL:         cfg.RetrievalServiceURL,
		DefaultPipeline: cfg.RAG.PipelineName,
	})

	strategies, err := buildStrategies(httpSource, cfg.RAG)
	if err != nil {
		return nil, err
	}

	var rewriter *rewrite.Rewriter
	if cfg.RAG.QueryRewriteEnabled {
		httpClient := observability.NewHTTPClient(nil)
		rewriteProvider, err := providers.Build(cfg, httpClient)
		if err != nil {
			return nil, err
		}
		rewriter = rewrite.New(rewrite.Config{Enabled: true, Model: cfg.RAG.QueryRewriteModel}, rewriteProvider)
	}

	ragCache := cache.New(cache.Config{
		RedisAddr:     cfg.RAG.RedisAddr,
		RedisPassword: cfg.RAG.RedisPassword,
		RedisDB:       cfg.RAG.RedisDB,
		TTL:           time.Duration(cfg.RAG.CacheTTLSecs) * time.Second,
	})

	ragCfg := rag.Config{
		Enabled:             cfg.RAG.Enabled,
		Strategy:            cfg.RAG.Strategy,
		PipelineName:        cfg.RAG.PipelineName,
		QueryRewriter:       rewrite.Config{Enabled: cfg.RAG.QueryRewriteEnabled, Model: cfg.RAG.QueryRewriteModel},
		MaxQueryLength:      cfg.RAG.MaxQueryLength,
		BlockedPatterns:     cfg.RAG.BlockedPatterns,
		SensitivePatterns:   cfg.RAG.SensitivePatterns,
		MaxResults:          cfg.RAG.MaxResults,
		MergeKeepBestScore:  cfg.RAG.MergeKeepBestScore,
		FilterSensitiveInfo: cfg.RAG.FilterSensitiveInfo,
		ValidateRelevance:   cfg.RAG.ValidateRelevance,
		RelevanceFloor:      cfg.RAG.RelevanceFloor,
		CacheEnabled:        cfg.RAG.CacheEnabled,
		CacheTTLSecs:        cfg.RAG.CacheTTLSecs,
		FallbackOnError:     cfg.RAG.FallbackOnError,
	}

	return rag.New(ragCfg, strategies, rewriter, ragCache, []string{cfg.RetrievalServiceURL}), nil
}

func buildStrategies(src retrieval.Source, ragCfg config.RAGConfig) (map[string]retrieval.Strategy, error) {
	stratCfg := strategy.Config{
		PipelineName:        ragCfg.PipelineName,
		TopK:                ragCfg.TopKPerSearch,
		MaxRounds:           ragCfg.MaxRounds,
		MinResultsThreshold: ragCfg.MinResultsThreshold,
		MinScoreThreshold:   ragCfg.MinScoreThreshold,
		NumVariants:         ragCfg.NumVariants,
	}
	return map[string]retrieval.Strategy{
		"single_round": strategy.NewSingleRound(src, stratCfg),
		"multi_round":  strategy.NewMultiRound(src, stratCfg),
		"parallel":     strategy.NewParallel(src, stratCfg),
	}, nil
}

// RetrievalService bundles what cmd/retrievalservice's HTTP handler needs.
type RetrievalService struct {
	Config  config.Config
	Store   *pipeline.Store
	Service *retrievalservice.Service
	Vector  *store.Store
}

// BuildRetrievalService constructs the retrieval service core (§4.J):
// loads the pipeline store, connects to the vector store named by the
// default pipeline, and builds one embeddings.Client per configured
// model.
func BuildRetrievalService(cfg config.Config) (*RetrievalService, error) {
	pipelineStore, err := pipeline.NewStore(cfg.PipelineConfigPath)
	if err != nil {
		return nil, err
	}

	defaultCfg, err := pipelineStore.Get("")
	if err != nil {
		return nil, err
	}

	vectorStore, err := store.New(defaultCfg.VectorStore.Addr, defaultCfg.VectorStore.APIKey)
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "wiring.BuildRetrievalService", err)
	}

	embedders := make(map[string]retrievalservice.Embedder, len(defaultCfg.EmbeddingModels))
	for _, ref := range defaultCfg.EmbeddingModels {
		providerCfg, ok := cfg.EmbeddingProviders[ref.Provider]
		if !ok {
			return nil, apperr.New(apperr.Configuration, "wiring.BuildRetrievalService",
				fmt.Errorf("no embedding provider configured for %q", ref.Provider))
		}
		embedders[ref.Key()] = embeddings.New(providerCfg.Host, providerCfg.APIKey, ref.Model)
	}

	svc := retrievalservice.New(defaultCfg, embedders, vectorStore)

	return &RetrievalService{Config: cfg, Store: pipelineStore, Service: svc, Vector: vectorStore}, nil
}

// Close releases the retrieval service's vector-store connection.
func (r *RetrievalService) Close() error {
	if r.Vector == nil {
		return nil
	}
	return r.Vector.Close()
}
