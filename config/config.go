// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads chunkstore settings.
//
// Settings are layered: built-in defaults, then an optional YAML or TOML
// file, then environment variables. Environment variables always win.
//
//	DEFAULT_VECTOR_DB_COLLECTION_NAME  default collection (MyRAGApp)
//	EMBEDDINGS_MODEL_ID                embedding model (required)
//	EMBEDDINGS_HOST                    OpenAI-compatible base URL
//	OPENAI_API_KEY                     API token
//	EMBEDDINGS_DIMENSIONS              expected vector length (0 learns it)
//	EMBEDDINGS_BATCH_SIZE              chunks per embedding request
//	CHUNK_SIZE, CHUNK_OVERLAP          chunking policy (1000, 200)
//	VECTOR_DB_BACKEND                  badger, memory, sqlite or postgres
//	VECTOR_DB_PATH                     badger directory or sqlite file
//	VECTOR_DB_DSN                      postgres connection string
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/chunkstore/ai"
	"github.com/poiesic/chunkstore/core"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultPath         = "~/.chunkstore/data"
)

// Environment variable names.
const (
	EnvDefaultCollection = "DEFAULT_VECTOR_DB_COLLECTION_NAME"
	EnvEmbeddingsModel   = "EMBEDDINGS_MODEL_ID"
	EnvEmbeddingsHost    = "EMBEDDINGS_HOST"
	EnvAPIKey            = "OPENAI_API_KEY"
	EnvDimensions        = "EMBEDDINGS_DIMENSIONS"
	EnvBatchSize         = "EMBEDDINGS_BATCH_SIZE"
	EnvChunkSize         = "CHUNK_SIZE"
	EnvChunkOverlap      = "CHUNK_OVERLAP"
	EnvBackend           = "VECTOR_DB_BACKEND"
	EnvPath              = "VECTOR_DB_PATH"
	EnvDSN               = "VECTOR_DB_DSN"
)

// Config is the complete chunkstore configuration.
type Config struct {
	DefaultCollection string           `yaml:"default_collection" toml:"default_collection"`
	Embeddings        EmbeddingsConfig `yaml:"embeddings" toml:"embeddings"`
	Chunking          ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Backend           BackendConfig    `yaml:"backend" toml:"backend"`
}

// EmbeddingsConfig selects the embedding service.
type EmbeddingsConfig struct {
	Host       string `yaml:"host" toml:"host"`
	Model      string `yaml:"model" toml:"model"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size"`
}

// ChunkingConfig is the default chunking policy.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// BackendConfig selects the storage backend.
type BackendConfig struct {
	Kind string `yaml:"kind" toml:"kind"`
	Path string `yaml:"path" toml:"path"`
	DSN  string `yaml:"dsn" toml:"dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultCollection: core.DefaultCollectionName,
		Embeddings: EmbeddingsConfig{
			Host:      ai.DefaultEmbeddingHost,
			BatchSize: ai.DefaultBatchSize,
		},
		Chunking: ChunkingConfig{
			Size:    defaultChunkSize,
			Overlap: defaultChunkOverlap,
		},
		Backend: BackendConfig{
			Kind: BackendBadger,
			Path: defaultPath,
		},
	}
}

// Load builds a configuration from defaults, the file at path (if not
// empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile overlays settings from a YAML or TOML file.
func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config: %w", core.ErrConfiguration, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: unsupported config format %q", core.ErrConfiguration, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%w: parse %s: %w", core.ErrConfiguration, path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", core.ErrConfiguration, key, err)
		}
		*dst = n
		return nil
	}

	str(EnvDefaultCollection, &c.DefaultCollection)
	str(EnvEmbeddingsModel, &c.Embeddings.Model)
	str(EnvEmbeddingsHost, &c.Embeddings.Host)
	str(EnvAPIKey, &c.Embeddings.APIKey)
	str(EnvBackend, &c.Backend.Kind)
	str(EnvPath, &c.Backend.Path)
	str(EnvDSN, &c.Backend.DSN)

	for key, dst := range map[string]*int{
		EnvDimensions:   &c.Embeddings.Dimensions,
		EnvBatchSize:    &c.Embeddings.BatchSize,
		EnvChunkSize:    &c.Chunking.Size,
		EnvChunkOverlap: &c.Chunking.Overlap,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) normalize() error {
	c.Backend.Kind = strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	if c.DefaultCollection == "" {
		c.DefaultCollection = core.DefaultCollectionName
	}
	path, err := expandUserPath(c.Backend.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	c.Backend.Path = path
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := core.ValidateCollectionName(c.DefaultCollection); err != nil {
		return err
	}
	if c.Embeddings.Model == "" {
		return fmt.Errorf("%w: %s is required", core.ErrConfiguration, EnvEmbeddingsModel)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("%w: embedding dimensions cannot be negative", core.ErrConfiguration)
	}
	if c.Embeddings.BatchSize < 0 {
		return fmt.Errorf("%w: embedding batch size cannot be negative", core.ErrConfiguration)
	}
	if err := core.ValidateChunkParams(c.Chunking.Size, c.Chunking.Overlap); err != nil {
		return err
	}
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendBadger, BackendSQLite:
		if c.Backend.Path == "" {
			return fmt.Errorf("%w: %s backend requires %s", core.ErrConfiguration, c.Backend.Kind, EnvPath)
		}
	case BackendPostgres:
		if c.Backend.DSN == "" {
			return fmt.Errorf("%w: postgres backend requires %s", core.ErrConfiguration, EnvDSN)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", core.ErrConfiguration, c.Backend.Kind)
	}
	return nil
}

// AIConfig returns the embedding configuration as an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithEmbeddingHost(c.Embeddings.Host),
		ai.WithEmbeddingModel(c.Embeddings.Model),
		ai.WithDimensions(c.Embeddings.Dimensions),
	}
	if c.Embeddings.APIKey != "" {
		opts = append(opts, ai.WithEmbeddingToken(c.Embeddings.APIKey))
	}
	if c.Embeddings.BatchSize > 0 {
		opts = append(opts, ai.WithBatchSize(c.Embeddings.BatchSize))
	}
	return ai.NewConfig(opts...)
}

func expandUserPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
