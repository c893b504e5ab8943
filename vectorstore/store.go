package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chunkstore/ai"
	"github.com/poiesic/chunkstore/chunking"
	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/storage"
)

const (
	// DefaultChunkSize is the chunk size, in characters, used when callers have no preference.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap, in characters, used when callers have no preference.
	DefaultChunkOverlap = 200
)

// VectorStore persists embedded chunks into a collection.
type VectorStore interface {
	// DefaultCollectionName returns the configured default collection name,
	// or core.DefaultCollectionName when none is configured.
	DefaultCollectionName() string

	// Embedder returns the embedder bound to the store.
	Embedder() ai.Embedder

	// AddDocuments embeds and stores documents in the active collection.
	// Returns the stored IDs in input order.
	AddDocuments(ctx context.Context, docs []core.Document) ([]core.ID, error)

	// DeleteEmbeddings removes every record of sourceID from the active collection.
	DeleteEmbeddings(ctx context.Context, sourceID string) (core.DeleteResult, error)

	// DropCollection removes a collection and all of its records.
	DropCollection(ctx context.Context, name string, ignoreNonExist bool) error

	// SplitAndStoreText chunks text and stores every chunk with metadata
	// plus its chunk_index. Returns one stored ID per chunk in chunk order.
	SplitAndStoreText(ctx context.Context, text string, metadata core.Metadata, chunkSize, chunkOverlap int) ([]core.ID, error)
}

// Store implements VectorStore over a storage.Backend and an ai.Embedder.
type Store struct {
	backend           storage.Backend
	embedder          ai.Embedder
	pool              *ants.Pool
	collection        string
	defaultCollection string
	batchSize         int
	concurrency       int
	model             string
	logger            *slog.Logger
}

var _ VectorStore = (*Store)(nil)

// New creates a Store. The caller keeps ownership of backend.
func New(backend storage.Backend, embedder ai.Embedder, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrBackendRequired)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrEmbedderRequired)
	}

	concurrency := runtime.NumCPU() / 2
	if concurrency < 1 {
		concurrency = 1
	}

	s := &Store{
		backend:           backend,
		embedder:          embedder,
		defaultCollection: core.DefaultCollectionName,
		batchSize:         ai.DefaultBatchSize,
		concurrency:       concurrency,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.collection == "" {
		s.collection = s.defaultCollection
	}

	pool, err := ants.NewPool(s.concurrency)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	s.logger = s.logger.With("component", "vectorstore", "collection", s.collection)
	return s, nil
}

// Release releases the embedding worker pool.
// The store should not be used after calling Release.
func (s *Store) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// DefaultCollectionName returns the configured default collection name.
func (s *Store) DefaultCollectionName() string {
	return s.defaultCollection
}

// Collection returns the active collection.
func (s *Store) Collection() string {
	return s.collection
}

// Embedder returns the embedder bound to the store.
func (s *Store) Embedder() ai.Embedder {
	return s.embedder
}

// AddDocuments embeds and stores documents in the active collection.
// Every document is validated before any I/O. StoredID is set on each
// document once the write commits.
func (s *Store) AddDocuments(ctx context.Context, docs []core.Document) ([]core.ID, error) {
	if len(docs) == 0 {
		return []core.ID{}, nil
	}
	texts := make([]string, len(docs))
	for i := range docs {
		if err := validateDocument(&docs[i]); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		texts[i] = docs[i].Content
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	records := make([]*core.Record, len(docs))
	for i := range docs {
		sourceID, _ := docs[i].Metadata.SourceID()
		records[i] = &core.Record{
			SourceID:       sourceID,
			ChunkIndex:     docs[i].ChunkIndex,
			Content:        docs[i].Content,
			Metadata:       docs[i].Metadata.Clone(),
			Vector:         vectors[i],
			Checksum:       core.Checksum(docs[i].Content),
			EmbeddingModel: s.model,
		}
	}

	ids, err := s.backend.AddRecords(ctx, s.collection, records...)
	if err != nil {
		s.logger.Error("failed to store records", "records", len(records), "err", err)
		return nil, wrapStorage(err)
	}
	for i := range docs {
		docs[i].StoredID = ids[i]
	}
	s.logger.Debug("stored records", "records", len(ids))
	return ids, nil
}

// validateDocument checks a document and that a chunk_index in its
// metadata agrees with ChunkIndex.
func validateDocument(doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	if v, ok := doc.Metadata[core.ChunkIndexKey]; ok {
		if idx, isInt := v.(int); isInt && idx != doc.ChunkIndex {
			return fmt.Errorf("%w: %w: metadata has %d, document has %d",
				core.ErrConfiguration, core.ErrInvalidChunkIndex, idx, doc.ChunkIndex)
		}
	}
	return nil
}

// embed computes one vector per text, in order, batching requests across the pool.
func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}
			batch, err := s.embedder.EmbedDocuments(ctx, texts[start:end])
			if err != nil {
				fail(err)
				return
			}
			if len(batch) != end-start {
				fail(fmt.Errorf("%w: expected %d embeddings, received %d", core.ErrEmbedding, end-start, len(batch)))
				return
			}
			copy(vectors[start:end], batch)
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		s.logger.Error("failed to generate embeddings", "texts", len(texts), "err", firstErr)
		if !errors.Is(firstErr, core.ErrEmbedding) {
			firstErr = fmt.Errorf("%w: %w", core.ErrEmbedding, firstErr)
		}
		return nil, firstErr
	}

	// Batches are checked against each other as well as individually.
	if _, err := ai.ValidateVectors(vectors, len(texts), 0); err != nil {
		return nil, err
	}
	return vectors, nil
}

// DeleteEmbeddings removes every record of sourceID from the active collection.
// Deleting an absent source is not an error and reports zero records.
func (s *Store) DeleteEmbeddings(ctx context.Context, sourceID string) (core.DeleteResult, error) {
	result := core.DeleteResult{Collection: s.collection}
	if err := core.ValidateSourceID(sourceID); err != nil {
		return result, err
	}
	n, err := s.backend.DeleteBySource(ctx, s.collection, sourceID)
	if err != nil {
		s.logger.Error("failed to delete records", "source_id", sourceID, "err", err)
		return result, wrapStorage(err)
	}
	result.DeletedCount = n
	s.logger.Debug("deleted records", "source_id", sourceID, "records", n)
	return result, nil
}

// DropCollection removes a collection and all of its records.
// A missing collection is an error wrapping core.ErrNotFound unless
// ignoreNonExist is set.
func (s *Store) DropCollection(ctx context.Context, name string, ignoreNonExist bool) error {
	if err := core.ValidateCollectionName(name); err != nil {
		return err
	}
	err := s.backend.DropCollection(ctx, name)
	if errors.Is(err, storage.ErrCollectionNotFound) && ignoreNonExist {
		return nil
	}
	if err != nil {
		return wrapStorage(fmt.Errorf("collection %q: %w", name, err))
	}
	s.logger.Info("dropped collection", "name", name)
	return nil
}

// SplitAndStoreText chunks text and stores each chunk with a copy of
// metadata carrying its chunk_index. Chunk parameters and metadata are
// validated before any I/O; text with no content stores nothing.
func (s *Store) SplitAndStoreText(ctx context.Context, text string, metadata core.Metadata, chunkSize, chunkOverlap int) ([]core.ID, error) {
	chunker, err := chunking.New(chunkSize, chunkOverlap)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	chunks := chunker.Split(text)
	if len(chunks) == 0 {
		return []core.ID{}, nil
	}

	docs := make([]core.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = core.Document{
			Content:    chunk,
			Metadata:   metadata.WithChunkIndex(i),
			ChunkIndex: i,
		}
	}

	sourceID, _ := metadata.SourceID()
	s.logger.Debug("split text", "source_id", sourceID, "chunks", len(chunks), "chunk_size", chunkSize, "chunk_overlap", chunkOverlap)
	return s.AddDocuments(ctx, docs)
}

// Documents returns the stored records of sourceID in the active collection,
// ordered by chunk index.
func (s *Store) Documents(ctx context.Context, sourceID string) ([]*core.Record, error) {
	if err := core.ValidateSourceID(sourceID); err != nil {
		return nil, err
	}
	records, err := s.backend.GetBySource(ctx, s.collection, sourceID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return records, nil
}

// Collections lists every collection in the backend.
func (s *Store) Collections(ctx context.Context) ([]core.CollectionInfo, error) {
	infos, err := s.backend.ListCollections(ctx)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return infos, nil
}

// wrapStorage maps backend errors onto core error kinds.
func wrapStorage(err error) error {
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", core.ErrStorage, err)
}
