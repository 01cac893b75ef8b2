package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv_WholeValuePrefix(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_ADDR", "localhost:6333")
	raw := []byte("vector_store:\n  addr: env:RAGCHAT_TEST_ADDR\n")
	out := ExpandEnv(raw)
	assert.Contains(t, string(out), "addr: localhost:6333")
}

func TestExpandEnv_BraceSubstitution(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_KEY", "secret123")
	raw := []byte("api_key: \"prefix-${RAGCHAT_TEST_KEY}-suffix\"\n")
	out := ExpandEnv(raw)
	assert.Contains(t, string(out), "prefix-secret123-suffix")
}

func TestParseEmbeddingModelRef(t *testing.T) {
	ref, err := ParseEmbeddingModelRef("openai:text-embedding-3-small", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", ref.Collection)
	assert.Equal(t, "openai:text-embedding-3-small", ref.Key())

	ref, err = ParseEmbeddingModelRef("openai:text-embedding-3-small:docs", "default")
	require.NoError(t, err)
	assert.Equal(t, "docs", ref.Collection)

	_, err = ParseEmbeddingModelRef("justmodel", "default")
	require.Error(t, err)
}

func TestStore_LoadAndGet(t *testing.T) {
	t.Setenv("RAGCHAT_TEST_VS_ADDR", "localhost:6333")
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelines.yaml")
	yamlContent := `
default: docs
pipelines:
  docs:
    vector_store:
      addr: env:RAGCHAT_TEST_VS_ADDR
      collection: docs_collection
    embedding_models:
      - provider: openai
        model: text-embedding-3-small
    rerank:
      api_url: ""
    retrieval:
      top_k_per_model: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	store, err := NewStore(path)
	require.NoError(t, err)

	cfg, err := store.Get("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6333", cfg.VectorStore.Addr)
	assert.Equal(t, "docs_collection", cfg.VectorStore.Collection)
	require.Len(t, cfg.EmbeddingModels, 1)
	assert.Equal(t, "docs_collection", cfg.EmbeddingModels[0].Collection)
	assert.Equal(t, 5, cfg.Retrieval.TopKPerModel)
	assert.Equal(t, 20, cfg.Retrieval.RerankTopK)
	assert.False(t, cfg.Rerank.IsEnabled())

	_, err = store.Get("missing")
	require.Error(t, err)
}

func TestStore_MissingFileIsNotAnError(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, store.Names())
}
