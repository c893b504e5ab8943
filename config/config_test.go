package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/chunkstore/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envOf(map[string]string{EnvEmbeddingsModel: "nomic-embed-text"}))
	require.NoError(t, err)

	assert.Equal(t, "MyRAGApp", cfg.DefaultCollection)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, BackendBadger, cfg.Backend.Kind)
	assert.True(t, filepath.IsAbs(cfg.Backend.Path), "home directory is expanded")
}

func TestLoad_MissingModel(t *testing.T) {
	_, err := load("", envOf(nil))
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Contains(t, err.Error(), EnvEmbeddingsModel)
}

func TestLoad_Environment(t *testing.T) {
	cfg, err := load("", envOf(map[string]string{
		EnvDefaultCollection: "handbook",
		EnvEmbeddingsModel:   "text-embedding-3-small",
		EnvEmbeddingsHost:    "https://api.openai.com",
		EnvAPIKey:            "sk-test",
		EnvDimensions:        "1536",
		EnvBatchSize:         "16",
		EnvChunkSize:         "500",
		EnvChunkOverlap:      "50",
		EnvBackend:           "SQLite",
		EnvPath:              "/tmp/chunks.sqlite",
	}))
	require.NoError(t, err)

	assert.Equal(t, "handbook", cfg.DefaultCollection)
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, BackendSQLite, cfg.Backend.Kind)
	assert.Equal(t, "/tmp/chunks.sqlite", cfg.Backend.Path)

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "https://api.openai.com/v1", aiCfg.EmbeddingHost)
	assert.Equal(t, "sk-test", aiCfg.EmbeddingToken)
	assert.Equal(t, "text-embedding-3-small", aiCfg.EmbeddingModel)
	assert.Equal(t, 1536, aiCfg.Dimensions)
	assert.Equal(t, 16, aiCfg.BatchSize)
}

func TestLoad_EmptyCollectionFallsBack(t *testing.T) {
	cfg, err := load("", envOf(map[string]string{
		EnvEmbeddingsModel:   "m",
		EnvDefaultCollection: "",
	}))
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCollectionName, cfg.DefaultCollection)
}

func TestLoad_InvalidNumber(t *testing.T) {
	_, err := load("", envOf(map[string]string{
		EnvEmbeddingsModel: "m",
		EnvChunkSize:       "large",
	}))
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Contains(t, err.Error(), EnvChunkSize)
}

func TestLoad_InvalidChunking(t *testing.T) {
	_, err := load("", envOf(map[string]string{
		EnvEmbeddingsModel: "m",
		EnvChunkSize:       "100",
		EnvChunkOverlap:    "100",
	}))
	assert.ErrorIs(t, err, core.ErrInvalidChunkOverlap)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "chunkstore.yaml", `
default_collection: faq
embeddings:
  host: http://ollama:11434
  model: nomic-embed-text
  batch_size: 8
chunking:
  size: 800
  overlap: 100
backend:
  kind: memory
`)

	cfg, err := load(path, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, "faq", cfg.DefaultCollection)
	assert.Equal(t, "http://ollama:11434", cfg.Embeddings.Host)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 8, cfg.Embeddings.BatchSize)
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, BackendMemory, cfg.Backend.Kind)
}

func TestLoad_TOMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "chunkstore.toml", `
default_collection = "faq"

[embeddings]
model = "from-file"

[backend]
kind = "postgres"
dsn = "postgres://localhost/chunks"
`)

	cfg, err := load(path, envOf(map[string]string{EnvEmbeddingsModel: "from-env"}))
	require.NoError(t, err)
	assert.Equal(t, "faq", cfg.DefaultCollection)
	assert.Equal(t, "from-env", cfg.Embeddings.Model, "environment wins over file")
	assert.Equal(t, BackendPostgres, cfg.Backend.Kind)
	assert.Equal(t, "postgres://localhost/chunks", cfg.Backend.DSN)
	assert.Equal(t, 1000, cfg.Chunking.Size, "unset values keep defaults")
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), envOf(nil))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = load(writeFile(t, "config.json", `{}`), envOf(nil))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = load(writeFile(t, "bad.yaml", "embeddings: [unclosed"), envOf(nil))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		backend BackendConfig
		wantErr bool
	}{
		{"badger", BackendConfig{Kind: BackendBadger, Path: "/data"}, false},
		{"badger without path", BackendConfig{Kind: BackendBadger}, true},
		{"memory", BackendConfig{Kind: BackendMemory}, false},
		{"sqlite", BackendConfig{Kind: BackendSQLite, Path: "chunks.db"}, false},
		{"postgres without dsn", BackendConfig{Kind: BackendPostgres}, true},
		{"unknown", BackendConfig{Kind: "milvus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Embeddings.Model = "m"
			cfg.Backend = tt.backend
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
