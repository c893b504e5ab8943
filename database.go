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

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/chunkstore/ai"
	"github.com/poiesic/chunkstore/ai/openai"
	"github.com/poiesic/chunkstore/config"
	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/ingestion"
	"github.com/poiesic/chunkstore/storage"
	"github.com/poiesic/chunkstore/storage/badger"
	"github.com/poiesic/chunkstore/storage/postgres"
	"github.com/poiesic/chunkstore/storage/sqlite"
	"github.com/poiesic/chunkstore/vectorstore"
)

// Database wires a storage backend and an embedding provider into vector stores.
type Database struct {
	config   *config.Config
	backend  storage.Backend
	provider ai.Provider
	stores   map[string]*vectorstore.Store
	mu       sync.Mutex
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	provider ai.Provider
	logger   *slog.Logger
}

// WithProvider uses provider instead of building an OpenAI-compatible one
// from the configuration. The database takes ownership and closes it.
func WithProvider(provider ai.Provider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens the backend selected by cfg and the embedding provider.
func NewDatabase(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", core.ErrConfiguration)
	}
	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	backend, err := OpenBackend(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
		}
	}

	return &Database{
		config:   cfg,
		backend:  backend,
		provider: provider,
		stores:   make(map[string]*vectorstore.Store),
		logger:   options.logger,
	}, nil
}

// OpenBackend opens the storage backend described by cfg.
func OpenBackend(ctx context.Context, cfg config.BackendConfig) (storage.Backend, error) {
	var (
		backend storage.Backend
		err     error
	)
	switch cfg.Kind {
	case config.BackendBadger:
		backend, err = badger.Open(cfg.Path)
	case config.BackendMemory:
		backend, err = badger.OpenMemory()
	case config.BackendSQLite:
		backend, err = sqlite.Open(ctx, cfg.Path)
	case config.BackendPostgres:
		backend, err = postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %w: %q", core.ErrConfiguration, storage.ErrUnknownBackend, cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s backend: %w", core.ErrStorage, cfg.Kind, err)
	}
	return backend, nil
}

// Config returns the configuration the database was opened with.
func (db *Database) Config() *config.Config {
	return db.config
}

// Backend returns the storage backend.
func (db *Database) Backend() storage.Backend {
	return db.backend
}

// Provider returns the embedding provider.
func (db *Database) Provider() ai.Provider {
	return db.provider
}

// Store returns the vector store for a collection.
// An empty name selects the configured default collection.
func (db *Database) Store(collection string) (*vectorstore.Store, error) {
	if collection == "" {
		collection = db.config.DefaultCollection
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if store, ok := db.stores[collection]; ok {
		return store, nil
	}
	store, err := vectorstore.New(db.backend, db.provider.Embedder(),
		vectorstore.WithDefaultCollection(db.config.DefaultCollection),
		vectorstore.WithCollection(collection),
		vectorstore.WithEmbedBatchSize(db.batchSize()),
		vectorstore.WithEmbeddingModel(db.provider.Model()),
		vectorstore.WithLogger(db.logger),
	)
	if err != nil {
		return nil, err
	}
	db.stores[collection] = store
	return store, nil
}

func (db *Database) batchSize() int {
	if db.config.Embeddings.BatchSize > 0 {
		return db.config.Embeddings.BatchSize
	}
	return ai.DefaultBatchSize
}

// NewIngestionPipeline creates a pipeline over the store for collection,
// using the configured chunking policy unless opts override it.
func (db *Database) NewIngestionPipeline(collection string, opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	store, err := db.Store(collection)
	if err != nil {
		return nil, err
	}
	opts = append([]ingestion.Option{
		ingestion.WithChunking(db.config.Chunking.Size, db.config.Chunking.Overlap),
		ingestion.WithLogger(db.logger),
	}, opts...)
	return ingestion.NewPipeline(store, opts...)
}

// Close releases the stores, the provider and the backend.
func (db *Database) Close() error {
	db.mu.Lock()
	for name, store := range db.stores {
		store.Release()
		delete(db.stores, name)
	}
	db.mu.Unlock()

	var errs []error
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing embedding provider", "err", err)
		errs = append(errs, err)
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
