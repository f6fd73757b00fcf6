package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "host: 0.0.0.0\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "stdio", cfg.Transport)
	require.Equal(t, VectorBackendManaged, cfg.Vector.Backend)
	require.Equal(t, "crawled_pages", cfg.Vector.DocumentsColl)
	require.Equal(t, "code_examples", cfg.Vector.CodeExamplesColl)
	require.Equal(t, "sources", cfg.Vector.SourcesColl)
	require.Equal(t, 5000, cfg.ChunkSize)
	require.Equal(t, 10, cfg.MaxConcurrentFetch)
	require.Equal(t, 20, cfg.EmbeddingBatchSize)
	require.Equal(t, 250, cfg.CodeBlockMinChars)
	require.Equal(t, 50, cfg.Graph.CommitHistoryLimit)
	require.Equal(t, 1536, cfg.Embedding.Dimensions)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.Equal(t, 60, cfg.Breaker.CoolOffSeconds)
}

func TestLoadConfigHonorsExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
chunk_size: 800
vector:
  backend: native
flags:
  use_hybrid_search: true
  use_knowledge_graph: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 800, cfg.ChunkSize)
	require.Equal(t, VectorBackendNative, cfg.Vector.Backend)
	require.True(t, cfg.Flags.UseHybridSearch)
	require.True(t, cfg.Flags.UseKnowledgeGraph)
	require.False(t, cfg.Flags.UseReranking)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
