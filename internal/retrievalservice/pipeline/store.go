package pipeline

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const envPrefix = "env:"

// ExpandEnv resolves `env:NAME` (whole-value) and `${NAME}` (embedded)
// substitutions in raw YAML bytes before unmarshaling, mirroring the
// Python pipeline config's `_resolve_env` (§6 persisted state).
func ExpandEnv(raw []byte) []byte {
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		lines[i] = expandEnvLine(line)
	}
	return []byte(strings.Join(lines, "\n"))
}

func expandEnvLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		value := strings.TrimSpace(trimmed[idx+1:])
		unquoted := strings.Trim(value, `"'`)
		if strings.HasPrefix(unquoted, envPrefix) {
			varName := strings.TrimSpace(strings.TrimPrefix(unquoted, envPrefix))
			prefixLen := len(line) - len(strings.TrimLeft(line, " "))
			key := line[prefixLen : prefixLen+idx]
			return line[:prefixLen] + key + ": " + os.Getenv(varName)
		}
	}
	return expandBraceRefs(line)
}

func expandBraceRefs(line string) string {
	var out strings.Builder
	i := 0
	for i < len(line) {
		start := strings.Index(line[i:], "${")
		if start == -1 {
			out.WriteString(line[i:])
			break
		}
		start += i
		out.WriteString(line[i:start])
		end := strings.Index(line[start:], "}")
		if end == -1 {
			out.WriteString(line[start:])
			break
		}
		end += start
		varName := strings.TrimSpace(line[start+2 : end])
		out.WriteString(os.Getenv(varName))
		i = end + 1
	}
	return out.String()
}

type yamlEmbeddingModel struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Collection string `yaml:"collection,omitempty"`
}

type yamlPipeline struct {
	VectorStore struct {
		Addr       string `yaml:"addr"`
		APIKey     string `yaml:"api_key"`
		Collection string `yaml:"collection"`
	} `yaml:"vector_store"`
	EmbeddingModels []yamlEmbeddingModel `yaml:"embedding_models"`
	Rerank          struct {
		APIURL  string `yaml:"api_url"`
		Model   string `yaml:"model"`
		Timeout int    `yaml:"timeout"`
	} `yaml:"rerank"`
	LLMFilter struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"llm_filter"`
	Retrieval struct {
		TopKPerModel int `yaml:"top_k_per_model"`
		RerankTopK   int `yaml:"rerank_top_k"`
		FinalTopK    int `yaml:"final_top_k"`
	} `yaml:"retrieval"`
	ChunkSizes struct {
		InitialSearch  int `yaml:"initial_search"`
		RerankInput    int `yaml:"rerank_input"`
		LLMFilterInput int `yaml:"llm_filter_input"`
	} `yaml:"chunk_sizes"`
}

type yamlFile struct {
	Default   string                  `yaml:"default"`
	Pipelines map[string]yamlPipeline `yaml:"pipelines"`
}

// Store loads named pipeline configs from a YAML file, resolving
// env-var placeholders before unmarshaling.
type Store struct {
	mu        sync.RWMutex
	path      string
	pipelines map[string]Config
	def       string
}

// NewStore loads path. A missing file yields an empty store (no
// pipelines, no default) rather than an error, so a fresh deployment
// can start; pipelines appear once the file exists and Load is called.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, pipelines: map[string]Config{}}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load (re)reads the YAML file from disk.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pipeline.Load: read %s: %w", s.path, err)
	}

	var parsed yamlFile
	if err := yaml.Unmarshal(ExpandEnv(raw), &parsed); err != nil {
		return fmt.Errorf("pipeline.Load: parse %s: %w", s.path, err)
	}

	pipelines := make(map[string]Config, len(parsed.Pipelines))
	for name, yp := range parsed.Pipelines {
		pipelines[name] = fromYAML(yp).withDefaults()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines = pipelines
	s.def = parsed.Default
	return nil
}

func fromYAML(yp yamlPipeline) Config {
	cfg := Config{
		VectorStore: VectorStoreConfig{Addr: yp.VectorStore.Addr, APIKey: yp.VectorStore.APIKey, Collection: yp.VectorStore.Collection},
		Rerank:      RerankConfig{APIURL: yp.Rerank.APIURL, Model: yp.Rerank.Model, Timeout: yp.Rerank.Timeout},
		LLMFilter:   LLMFilterConfig{APIKey: yp.LLMFilter.APIKey, BaseURL: yp.LLMFilter.BaseURL, Model: yp.LLMFilter.Model},
		Retrieval: RetrievalParams{
			TopKPerModel: yp.Retrieval.TopKPerModel,
			RerankTopK:   yp.Retrieval.RerankTopK,
			FinalTopK:    yp.Retrieval.FinalTopK,
		},
		ChunkSizes: ChunkSizes{
			InitialSearch:  yp.ChunkSizes.InitialSearch,
			RerankInput:    yp.ChunkSizes.RerankInput,
			LLMFilterInput: yp.ChunkSizes.LLMFilterInput,
		},
	}
	for _, m := range yp.EmbeddingModels {
		collection := m.Collection
		if collection == "" {
			collection = yp.VectorStore.Collection
		}
		cfg.EmbeddingModels = append(cfg.EmbeddingModels, EmbeddingModelRef{Provider: m.Provider, Model: m.Model, Collection: collection})
	}
	return cfg
}

// Get returns a pipeline by name, falling back to the configured
// default when name is empty.
func (s *Store) Get(name string) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		name = s.def
	}
	if name == "" {
		return Config{}, fmt.Errorf("pipeline.Get: no default pipeline set and no name provided")
	}
	cfg, ok := s.pipelines[name]
	if !ok {
		return Config{}, fmt.Errorf("pipeline.Get: pipeline %q not found", name)
	}
	return cfg, nil
}

// Names lists every configured pipeline name.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	return names
}
