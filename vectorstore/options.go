package vectorstore

import (
	"fmt"
	"log/slog"

	"github.com/poiesic/chunkstore/core"
)

// Option configures a Store.
type Option func(*Store) error

// WithCollection sets the active collection.
// Default is the default collection name.
func WithCollection(name string) Option {
	return func(s *Store) error {
		if err := core.ValidateCollectionName(name); err != nil {
			return err
		}
		s.collection = name
		return nil
	}
}

// WithDefaultCollection sets the configured default collection name.
// An empty name keeps core.DefaultCollectionName.
func WithDefaultCollection(name string) Option {
	return func(s *Store) error {
		if name == "" {
			return nil
		}
		if err := core.ValidateCollectionName(name); err != nil {
			return err
		}
		s.defaultCollection = name
		return nil
	}
}

// WithEmbedBatchSize sets how many chunks are sent per embedding request.
// Default is ai.DefaultBatchSize.
func WithEmbedBatchSize(size int) Option {
	return func(s *Store) error {
		if size < 1 {
			return fmt.Errorf("%w: embed batch size must be positive, got %d", core.ErrConfiguration, size)
		}
		s.batchSize = size
		return nil
	}
}

// WithConcurrency sets how many embedding requests may run at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithConcurrency(n int) Option {
	return func(s *Store) error {
		if n < 1 {
			n = 1
		}
		s.concurrency = n
		return nil
	}
}

// WithEmbeddingModel sets the model identifier recorded on every stored record.
func WithEmbeddingModel(model string) Option {
	return func(s *Store) error {
		s.model = model
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}
