// Package config loads process configuration from the environment (with
// an optional .env file for local development) and from the persisted
// YAML documents named in the external-interfaces contract: function
// registry state and retrieval-service pipeline definitions.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"ragchat/internal/observability"
)

// OpenAIConfig configures the OpenAI-style connector (internal/llm/openai).
type OpenAIConfig struct {
	// API selects the wire shape: "responses" (default) or "completions"
	// for self-hosted OpenAI-compatible servers.
	API         string
	APIKey      string
	BaseURL     string
	Model       string
	LogPayloads bool
	ExtraParams map[string]any
}

// AnthropicPromptCacheConfig controls prompt-caching scope for the Anthropic connector.
type AnthropicPromptCacheConfig struct {
	Enabled        bool
	CacheSystem    bool
	CacheTools     bool
	CacheMessages  bool
}

type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

type LLMClientConfig struct {
	// Provider selects which connector internal/llm/providers.Build returns:
	// "openai" (default), "local" (OpenAI wire shape against a self-hosted
	// completions endpoint), "anthropic", or "google".
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// MCPTLSConfig controls TLS verification for HTTP-transport MCP servers.
type MCPTLSConfig struct {
	InsecureSkipVerify bool
}

// MCPHTTPConfig controls the HTTP client used for StreamableHTTP MCP servers.
type MCPHTTPConfig struct {
	ProxyURL       string
	TLS            MCPTLSConfig
	TimeoutSeconds int
}

// MCPServerConfig describes one tool server the transport supervisor (§4.A)
// connects to, either by spawning a stdio subprocess (Command set) or by
// dialing a StreamableHTTP endpoint (URL set).
type MCPServerConfig struct {
	Name             string
	Command          string
	Args             []string
	Env              map[string]string
	URL              string
	KeepAliveSeconds int
	// PathDependent marks servers whose tool set depends on a working
	// directory that varies per caller; carried for forward compatibility
	// with multi-workspace deployments, unused by the single-process
	// transport supervisor this module implements.
	PathDependent    bool
	Headers          map[string]string
	BearerToken      string
	Origin           string
	ProtocolVersion  string
	HTTP             MCPHTTPConfig
}

type MCPConfig struct {
	Servers []MCPServerConfig
}

// EmbeddingProviderConfig configures one internal/embeddings.Client
// endpoint the retrieval service fans embedding requests out to.
type EmbeddingProviderConfig struct {
	Host   string
	APIKey string
}

// Config is the process-wide configuration singleton, loaded once at
// startup by Load and threaded through internal/wiring.
type Config struct {
	Workdir     string
	LogPath     string
	LogLevel    string
	LogPayloads bool

	LLMClient LLMClientConfig
	MCP       MCPConfig

	// RetrievalServiceURL is the base URL the RAG source adapter (§4.F)
	// calls for /api/search.
	RetrievalServiceURL string
	// FunctionRegistryPath is the YAML file persisting enabled-set and
	// per-function config (§4.B, §6 persisted state).
	FunctionRegistryPath string
	// PipelineConfigPath is the YAML file defining retrieval-service
	// pipelines (§3 PipelineConfig, §6 persisted state).
	PipelineConfigPath string
	// MCPServersPath is the YAML file defining tool-server definitions
	// (§4.A) internal/wiring spawns a Supervisor per entry from.
	MCPServersPath string

	RAG RAGConfig
	Obs observability.ObsConfig

	// EmbeddingProviders maps a pipeline.EmbeddingModelRef.Provider name
	// to the endpoint internal/embeddings.Client calls for it.
	EmbeddingProviders map[string]EmbeddingProviderConfig

	// ListenAddr is the address cmd/chatservice and cmd/retrievalservice
	// bind their HTTP surfaces on.
	ListenAddr string

	// FallbackContact names who the assistant should suggest contacting
	// when every tool call in a turn comes back empty (§4.C). Empty
	// disables the suggestion.
	FallbackContact string
}

// RAGConfig configures internal/rag.Orchestrator (§4.I), its strategy
// (§4.G), and its source adapter (§4.F) at wiring time.
type RAGConfig struct {
	Enabled             bool
	Strategy            string // "single_round" | "multi_round" | "parallel"
	PipelineName        string
	QueryRewriteEnabled bool
	QueryRewriteModel   string
	MaxQueryLength      int
	BlockedPatterns     []string
	SensitivePatterns   []string
	MaxResults          int
	MergeKeepBestScore  bool
	FilterSensitiveInfo bool
	ValidateRelevance   bool
	RelevanceFloor      float64
	CacheEnabled        bool
	CacheTTLSecs        int
	FallbackOnError     bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	// Strategy tuning (§4.G); not every field applies to every strategy.
	TopKPerSearch       int
	MaxRounds           int
	MinResultsThreshold int
	MinScoreThreshold   *float64
	NumVariants         int
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load reads .env (if present, overlaying already-set process env vars
// only where they are unset) and builds a Config from environment
// variables. MCP server definitions (LoadMCPServers), pipeline config
// (internal/retrievalservice/pipeline) and function-registry state
// (internal/toolregistry) are loaded separately since they live in YAML,
// not the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Workdir:     firstNonEmpty(os.Getenv("WORKDIR"), "."),
		LogPath:     os.Getenv("LOG_PATH"),
		LogLevel:    firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogPayloads: envBool("LOG_PAYLOADS", false),

		RetrievalServiceURL:  firstNonEmpty(os.Getenv("RETRIEVAL_SERVICE_URL"), "http://localhost:8081"),
		FunctionRegistryPath: firstNonEmpty(os.Getenv("FUNCTION_REGISTRY_PATH"), "function_registry.yaml"),
		PipelineConfigPath:   firstNonEmpty(os.Getenv("PIPELINE_CONFIG_PATH"), "pipelines.yaml"),
		MCPServersPath:       firstNonEmpty(os.Getenv("MCP_SERVERS_PATH"), "mcp_servers.yaml"),
		FallbackContact:      os.Getenv("FALLBACK_CONTACT"),
	}

	cfg.LLMClient = LLMClientConfig{
		Provider: firstNonEmpty(os.Getenv("LLM_PROVIDER"), "openai"),
		OpenAI: OpenAIConfig{
			API:         firstNonEmpty(os.Getenv("OPENAI_API"), "responses"),
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			BaseURL:     os.Getenv("OPENAI_BASE_URL"),
			Model:       firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
			LogPayloads: cfg.LogPayloads,
		},
		Anthropic: AnthropicConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			Model:   os.Getenv("ANTHROPIC_MODEL"),
			PromptCache: AnthropicPromptCacheConfig{
				Enabled: envBool("ANTHROPIC_PROMPT_CACHE", false),
			},
		},
		Google: GoogleConfig{
			APIKey:  os.Getenv("GOOGLE_LLM_API_KEY"),
			BaseURL: os.Getenv("GOOGLE_LLM_BASE_URL"),
			Model:   os.Getenv("GOOGLE_LLM_MODEL"),
			Timeout: envInt("GOOGLE_LLM_TIMEOUT_SECONDS", 60),
		},
	}

	cfg.ListenAddr = firstNonEmpty(os.Getenv("LISTEN_ADDR"), ":8080")

	cfg.EmbeddingProviders = map[string]EmbeddingProviderConfig{
		"openai": {
			Host:   firstNonEmpty(os.Getenv("EMBEDDING_OPENAI_HOST"), "https://api.openai.com/v1/embeddings"),
			APIKey: firstNonEmpty(os.Getenv("EMBEDDING_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		},
		"local": {
			Host:   os.Getenv("EMBEDDING_LOCAL_HOST"),
			APIKey: os.Getenv("EMBEDDING_LOCAL_API_KEY"),
		},
	}

	cfg.Obs = observability.ObsConfig{
		OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "ragchat"),
		ServiceVersion: os.Getenv("OTEL_SERVICE_VERSION"),
		Environment:    firstNonEmpty(os.Getenv("OTEL_ENVIRONMENT"), "development"),
	}

	cfg.RAG = RAGConfig{
		Enabled:             envBool("RAG_ENABLED", true),
		Strategy:            firstNonEmpty(os.Getenv("RAG_STRATEGY"), "single_round"),
		PipelineName:        firstNonEmpty(os.Getenv("RAG_PIPELINE_NAME"), "default"),
		QueryRewriteEnabled: envBool("RAG_QUERY_REWRITE_ENABLED", false),
		QueryRewriteModel:   os.Getenv("RAG_QUERY_REWRITE_MODEL"),
		MaxQueryLength:      envInt("RAG_MAX_QUERY_LENGTH", 2000),
		BlockedPatterns:     splitList(os.Getenv("RAG_BLOCKED_PATTERNS")),
		SensitivePatterns:   splitList(os.Getenv("RAG_SENSITIVE_PATTERNS")),
		MaxResults:          envInt("RAG_MAX_RESULTS", 10),
		MergeKeepBestScore:  envBool("RAG_MERGE_KEEP_BEST_SCORE", true),
		FilterSensitiveInfo: envBool("RAG_FILTER_SENSITIVE_INFO", false),
		ValidateRelevance:   envBool("RAG_VALIDATE_RELEVANCE", false),
		RelevanceFloor:      envFloat("RAG_RELEVANCE_FLOOR", 1.0),
		CacheEnabled:        envBool("RAG_CACHE_ENABLED", false),
		CacheTTLSecs:        envInt("RAG_CACHE_TTL_SECONDS", 600),
		FallbackOnError:     envBool("RAG_FALLBACK_ON_ERROR", true),
		RedisAddr:           os.Getenv("RAG_CACHE_REDIS_ADDR"),
		RedisPassword:       os.Getenv("RAG_CACHE_REDIS_PASSWORD"),
		RedisDB:             envInt("RAG_CACHE_REDIS_DB", 0),

		TopKPerSearch:       envInt("RAG_TOP_K", 10),
		MaxRounds:           envInt("RAG_MAX_ROUNDS", 3),
		MinResultsThreshold: envInt("RAG_MIN_RESULTS_THRESHOLD", 3),
		NumVariants:         envInt("RAG_NUM_VARIANTS", 3),
	}
	if raw := strings.TrimSpace(os.Getenv("RAG_MIN_SCORE_THRESHOLD")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.RAG.MinScoreThreshold = &v
		}
	}

	return cfg, nil
}

// splitList parses a comma-separated env var into a trimmed, non-empty
// string slice. Returns nil for an empty/unset value.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}
