package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/poiesic/chunkstore/ai/mock"
	"github.com/poiesic/chunkstore/chunking"
	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/storage"
	"github.com/poiesic/chunkstore/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend counts calls that reach the wrapped backend.
type countingBackend struct {
	storage.Backend
	writes  atomic.Int64
	deletes atomic.Int64
	addErr  error
}

func (c *countingBackend) AddRecords(ctx context.Context, collection string, records ...*core.Record) ([]core.ID, error) {
	c.writes.Add(1)
	if c.addErr != nil {
		return nil, c.addErr
	}
	return c.Backend.AddRecords(ctx, collection, records...)
}

func (c *countingBackend) DeleteBySource(ctx context.Context, collection, sourceID string) (int, error) {
	c.deletes.Add(1)
	return c.Backend.DeleteBySource(ctx, collection, sourceID)
}

func newTestBackend(t *testing.T) *countingBackend {
	t.Helper()
	backend, err := badger.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return &countingBackend{Backend: backend}
}

func newTestStore(t *testing.T, backend storage.Backend, embedder *mock.MockEmbedder, opts ...Option) *Store {
	t.Helper()
	store, err := New(backend, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(store.Release)
	return store
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, mock.NewMockEmbedder())
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, ErrBackendRequired)

	_, err = New(newTestBackend(t), nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestNew_InvalidOptions(t *testing.T) {
	backend := newTestBackend(t)

	_, err := New(backend, mock.NewMockEmbedder(), WithEmbedBatchSize(0))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = New(backend, mock.NewMockEmbedder(), WithCollection(""))
	assert.ErrorIs(t, err, core.ErrInvalidCollectionName)
}

func TestCollectionNames(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder()

	store := newTestStore(t, backend, embedder)
	assert.Equal(t, "MyRAGApp", store.DefaultCollectionName())
	assert.Equal(t, "MyRAGApp", store.Collection())

	store = newTestStore(t, backend, embedder, WithDefaultCollection("handbook"))
	assert.Equal(t, "handbook", store.DefaultCollectionName())
	assert.Equal(t, "handbook", store.Collection())

	store = newTestStore(t, backend, embedder, WithDefaultCollection(""))
	assert.Equal(t, "MyRAGApp", store.DefaultCollectionName())

	store = newTestStore(t, backend, embedder, WithCollection("faq"), WithDefaultCollection("handbook"))
	assert.Equal(t, "handbook", store.DefaultCollectionName())
	assert.Equal(t, "faq", store.Collection())
	assert.Same(t, embedder, store.Embedder())
}

func TestSplitAndStoreText_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder()
	store := newTestStore(t, backend, embedder, WithEmbeddingModel("mock-embedding"))

	text := strings.Repeat("a", 2500)
	metadata := core.Metadata{core.SourceIDKey: "doc1", "title": "Guide"}

	ids, err := store.SplitAndStoreText(ctx, text, metadata, 1000, 200)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Len(t, metadata, 2, "caller metadata is not modified")

	records, err := store.Documents(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, records, 4)

	wantLengths := []int{1000, 1000, 900, 100}
	for i, record := range records {
		assert.Equal(t, ids[i], record.ID)
		assert.Equal(t, i, record.ChunkIndex)
		assert.Len(t, record.Content, wantLengths[i])
		assert.Equal(t, core.Metadata{core.SourceIDKey: "doc1", "title": "Guide", core.ChunkIndexKey: i}, record.Metadata)
		assert.Equal(t, mock.GenerateDeterministicVector(record.Content, 384), record.Vector)
		assert.Equal(t, core.Checksum(record.Content), record.Checksum)
		assert.Equal(t, "mock-embedding", record.EmbeddingModel)
		assert.Equal(t, "MyRAGApp", record.Collection)
	}

	result, err := store.DeleteEmbeddings(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, core.DeleteResult{DeletedCount: 4, Collection: "MyRAGApp"}, result)

	result, err = store.DeleteEmbeddings(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.DeletedCount)

	records, err = store.Documents(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSplitAndStoreText_LargeText(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	store := newTestStore(t, backend, mock.NewMockEmbedderWithDimensions(1536))

	var b strings.Builder
	for i := 0; b.Len() < 1200*1024; i++ {
		fmt.Fprintf(&b, "Sentence %d of the manual covers one more setting. ", i)
	}
	text := b.String()

	chunker, err := chunking.New(1000, 200)
	require.NoError(t, err)
	chunks := chunker.Split(text)
	require.Greater(t, len(chunks), 1280)

	ids, err := store.SplitAndStoreText(ctx, text, core.Metadata{core.SourceIDKey: "manual"}, 1000, 200)
	require.NoError(t, err)
	require.Len(t, ids, len(chunks))

	records, err := store.Documents(ctx, "manual")
	require.NoError(t, err)
	require.Len(t, records, len(chunks))
	assert.Equal(t, chunks[0], records[0].Content)
	last := len(chunks) - 1
	assert.Equal(t, chunks[last], records[last].Content)
	assert.Equal(t, last, records[last].ChunkIndex)
	assert.Len(t, records[last].Vector, 1536)

	result, err := store.DeleteEmbeddings(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, len(chunks), result.DeletedCount)
}

func TestSplitAndStoreText_ShortText(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestBackend(t), mock.NewMockEmbedder())

	ids, err := store.SplitAndStoreText(ctx, "short text", core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	records, err := store.Documents(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "short text", records[0].Content)
	assert.Equal(t, 0, records[0].Metadata[core.ChunkIndexKey])
}

func TestSplitAndStoreText_EmptyText(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder()
	store := newTestStore(t, backend, embedder)

	for _, text := range []string{"", "   \n\t "} {
		ids, err := store.SplitAndStoreText(context.Background(), text, core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
		require.NoError(t, err)
		assert.Empty(t, ids)
	}
	assert.Equal(t, 0, embedder.CallCount())
	assert.Equal(t, int64(0), backend.writes.Load())
}

func TestSplitAndStoreText_ConfigurationErrorsBeforeIO(t *testing.T) {
	tests := []struct {
		name     string
		metadata core.Metadata
		size     int
		overlap  int
		want     error
	}{
		{"overlap equals size", core.Metadata{core.SourceIDKey: "doc1"}, 100, 100, core.ErrInvalidChunkOverlap},
		{"overlap exceeds size", core.Metadata{core.SourceIDKey: "doc1"}, 100, 150, core.ErrInvalidChunkOverlap},
		{"negative overlap", core.Metadata{core.SourceIDKey: "doc1"}, 100, -1, core.ErrInvalidChunkOverlap},
		{"zero size", core.Metadata{core.SourceIDKey: "doc1"}, 0, 0, core.ErrInvalidChunkSize},
		{"missing source_id", core.Metadata{"title": "Guide"}, 100, 10, core.ErrMissingSourceID},
		{"empty source_id", core.Metadata{core.SourceIDKey: ""}, 100, 10, core.ErrMissingSourceID},
		{"non-string source_id", core.Metadata{core.SourceIDKey: 42}, 100, 10, core.ErrMissingSourceID},
		{"nil metadata", nil, 100, 10, core.ErrMissingSourceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend(t)
			embedder := mock.NewMockEmbedder()
			store := newTestStore(t, backend, embedder)

			ids, err := store.SplitAndStoreText(context.Background(), strings.Repeat("word ", 100), tt.metadata, tt.size, tt.overlap)
			assert.Nil(t, ids)
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "configuration", core.Kind(err))

			assert.Equal(t, 0, embedder.CallCount(), "no embedding call")
			assert.Equal(t, int64(0), backend.writes.Load(), "no storage write")
		})
	}
}

func TestAddDocuments_Empty(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder()
	store := newTestStore(t, backend, embedder)

	ids, err := store.AddDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 0, embedder.CallCount())
	assert.Equal(t, int64(0), backend.writes.Load())
}

func TestAddDocuments_SetsStoredID(t *testing.T) {
	store := newTestStore(t, newTestBackend(t), mock.NewMockEmbedder())
	docs := []core.Document{
		{Content: "first", Metadata: core.Metadata{core.SourceIDKey: "doc1"}},
		{Content: "second", Metadata: core.Metadata{core.SourceIDKey: "doc2"}},
	}

	ids, err := store.AddDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, ids[0], docs[0].StoredID)
	assert.Equal(t, ids[1], docs[1].StoredID)
}

func TestAddDocuments_InvalidDocument(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder()
	store := newTestStore(t, backend, embedder)

	tests := []struct {
		name string
		doc  core.Document
		want error
	}{
		{"missing source", core.Document{Content: "x", Metadata: core.Metadata{}}, core.ErrMissingSourceID},
		{"negative index", core.Document{Content: "x", Metadata: core.Metadata{core.SourceIDKey: "doc1"}, ChunkIndex: -1}, core.ErrInvalidChunkIndex},
		{"index mismatch", core.Document{Content: "x", Metadata: core.Metadata{core.SourceIDKey: "doc1", core.ChunkIndexKey: 3}, ChunkIndex: 1}, core.ErrInvalidChunkIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := core.Document{Content: "ok", Metadata: core.Metadata{core.SourceIDKey: "doc1"}}
			_, err := store.AddDocuments(context.Background(), []core.Document{valid, tt.doc})
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, embedder.CallCount())
	assert.Equal(t, int64(0), backend.writes.Load())
}

func TestAddDocuments_BatchesPreserveOrder(t *testing.T) {
	ctx := context.Background()
	embedder := mock.NewMockEmbedder()
	store := newTestStore(t, newTestBackend(t), embedder, WithEmbedBatchSize(3), WithConcurrency(4))

	docs := make([]core.Document, 10)
	for i := range docs {
		docs[i] = core.Document{
			Content:    fmt.Sprintf("chunk number %d", i),
			Metadata:   core.Metadata{core.SourceIDKey: "doc1", core.ChunkIndexKey: i},
			ChunkIndex: i,
		}
	}

	ids, err := store.AddDocuments(ctx, docs)
	require.NoError(t, err)
	require.Len(t, ids, 10)
	assert.Equal(t, 4, embedder.CallCount(), "10 texts in batches of 3")
	assert.Equal(t, 10, embedder.TextCount())

	records, err := store.Documents(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, record := range records {
		assert.Equal(t, ids[i], record.ID)
		assert.Equal(t, docs[i].Content, record.Content)
		assert.Equal(t, mock.GenerateDeterministicVector(docs[i].Content, 384), record.Vector)
	}
}

func TestAddDocuments_EmbeddingFailureWritesNothing(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder().WithEmbedDocumentsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: service unavailable", core.ErrEmbedding)
	})
	store := newTestStore(t, backend, embedder)

	ids, err := store.SplitAndStoreText(context.Background(), strings.Repeat("a", 2500), core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
	assert.Nil(t, ids)
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.Equal(t, "embedding", core.Kind(err))
	assert.Equal(t, int64(0), backend.writes.Load())
}

func TestAddDocuments_UnwrappedEmbedderErrorIsEmbeddingKind(t *testing.T) {
	embedder := mock.NewMockEmbedder().WithEmbedDocumentsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	})
	store := newTestStore(t, newTestBackend(t), embedder)

	_, err := store.AddDocuments(context.Background(), []core.Document{
		{Content: "x", Metadata: core.Metadata{core.SourceIDKey: "doc1"}},
	})
	assert.ErrorIs(t, err, core.ErrEmbedding)
}

func TestAddDocuments_DimensionMismatchAcrossBatches(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder().WithEmbedDocumentsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		dims := 4
		if strings.HasPrefix(texts[0], "odd") {
			dims = 3
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.GenerateDeterministicVector(text, dims)
		}
		return out, nil
	})
	store := newTestStore(t, backend, embedder, WithEmbedBatchSize(1))

	_, err := store.AddDocuments(context.Background(), []core.Document{
		{Content: "even", Metadata: core.Metadata{core.SourceIDKey: "doc1"}},
		{Content: "odd", Metadata: core.Metadata{core.SourceIDKey: "doc1"}, ChunkIndex: 1},
	})
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.Equal(t, int64(0), backend.writes.Load())
}

func TestAddDocuments_CountMismatch(t *testing.T) {
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder().WithEmbedDocumentsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 2, 3}}, nil
	})
	store := newTestStore(t, backend, embedder)

	_, err := store.AddDocuments(context.Background(), []core.Document{
		{Content: "a", Metadata: core.Metadata{core.SourceIDKey: "doc1"}},
		{Content: "b", Metadata: core.Metadata{core.SourceIDKey: "doc1"}, ChunkIndex: 1},
	})
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.Equal(t, int64(0), backend.writes.Load())
}

func TestAddDocuments_StorageFailure(t *testing.T) {
	backend := newTestBackend(t)
	backend.addErr = errors.New("disk full")
	store := newTestStore(t, backend, mock.NewMockEmbedder())

	_, err := store.SplitAndStoreText(context.Background(), "some text", core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
	assert.ErrorIs(t, err, core.ErrStorage)
	assert.Equal(t, "storage", core.Kind(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestDeleteEmbeddings_ConfigurationError(t *testing.T) {
	backend := newTestBackend(t)
	store := newTestStore(t, backend, mock.NewMockEmbedder())

	_, err := store.DeleteEmbeddings(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Equal(t, int64(0), backend.deletes.Load())
}

func TestDeleteEmbeddings_OnlyActiveCollection(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	embedder := mock.NewMockEmbedder()
	faq := newTestStore(t, backend, embedder, WithCollection("faq"))
	handbook := newTestStore(t, backend, embedder, WithCollection("handbook"))

	_, err := faq.SplitAndStoreText(ctx, "faq text", core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
	require.NoError(t, err)
	_, err = handbook.SplitAndStoreText(ctx, "handbook text", core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
	require.NoError(t, err)

	result, err := faq.DeleteEmbeddings(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, core.DeleteResult{DeletedCount: 1, Collection: "faq"}, result)

	records, err := handbook.Documents(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDropCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestBackend(t), mock.NewMockEmbedder())

	_, err := store.SplitAndStoreText(ctx, "some text", core.Metadata{core.SourceIDKey: "doc1"}, 1000, 200)
	require.NoError(t, err)

	infos, err := store.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "MyRAGApp", infos[0].Name)
	assert.Equal(t, 1, infos[0].Records)

	require.NoError(t, store.DropCollection(ctx, "MyRAGApp", false))

	infos, err = store.Collections(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	err = store.DropCollection(ctx, "MyRAGApp", false)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, "not_found", core.Kind(err))

	assert.NoError(t, store.DropCollection(ctx, "MyRAGApp", true))
	assert.NoError(t, store.DropCollection(ctx, "never-created", true))

	err = store.DropCollection(ctx, "", true)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestConcurrentSources(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestBackend(t), mock.NewMockEmbedder(), WithEmbedBatchSize(2))

	const sources = 8
	var wg sync.WaitGroup
	counts := make([]int, sources)
	errs := make([]error, sources)
	for i := 0; i < sources; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := strings.Repeat(fmt.Sprintf("source %d sentence. ", i), 150)
			ids, err := store.SplitAndStoreText(ctx, text, core.Metadata{core.SourceIDKey: fmt.Sprintf("doc%d", i)}, 500, 50)
			counts[i] = len(ids)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < sources; i++ {
		require.NoError(t, errs[i])
		result, err := store.DeleteEmbeddings(ctx, fmt.Sprintf("doc%d", i))
		require.NoError(t, err)
		assert.Equal(t, counts[i], result.DeletedCount)
	}
}
