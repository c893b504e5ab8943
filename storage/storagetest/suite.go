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

// Package storagetest provides a conformance suite shared by every
// storage.Backend implementation.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// NewRecord builds an unsaved record for sourceID at chunk index.
func NewRecord(sourceID string, index int, vector []float32) *core.Record {
	content := fmt.Sprintf("%s chunk %d", sourceID, index)
	return &core.Record{
		SourceID:   sourceID,
		ChunkIndex: index,
		Content:    content,
		Metadata: core.Metadata{
			core.SourceIDKey:   sourceID,
			core.ChunkIndexKey: index,
			"title":            "Guide",
		},
		Vector:         vector,
		Checksum:       core.Checksum(content),
		EmbeddingModel: "mock-embedding",
	}
}

// NewRecords builds count records for sourceID with 3-dimensional vectors.
func NewRecords(sourceID string, count int) []*core.Record {
	records := make([]*core.Record, count)
	for i := range records {
		records[i] = NewRecord(sourceID, i, []float32{float32(i), 0.5, -0.25})
	}
	return records
}

// Run exercises the storage.Backend contract against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"AddRecords", testAddRecords},
		{"AddRecordsEmpty", testAddRecordsEmpty},
		{"DistinctIDs", testDistinctIDs},
		{"GetBySourceOrdered", testGetBySourceOrdered},
		{"GetBySourceMissing", testGetBySourceMissing},
		{"DeleteBySource", testDeleteBySource},
		{"DeleteBySourceIdempotent", testDeleteBySourceIdempotent},
		{"DeleteIsolatedBySource", testDeleteIsolatedBySource},
		{"CollectionsIsolated", testCollectionsIsolated},
		{"DropCollection", testDropCollection},
		{"DropMissingCollection", testDropMissingCollection},
		{"ListCollections", testListCollections},
		{"ConcurrentAdds", testConcurrentAdds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			defer b.Close()
			tt.fn(t, b)
		})
	}
}

func testAddRecords(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	records := NewRecords("doc1", 3)

	ids, err := b.AddRecords(ctx, "docs", records...)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for i, record := range records {
		assert.NotZero(t, ids[i])
		assert.Equal(t, ids[i], record.ID)
		assert.Equal(t, "docs", record.Collection)
		assert.False(t, record.InsertedAt.IsZero())
	}

	exists, err := b.HasCollection(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, exists, "collection is created on first write")

	stored, err := b.GetBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, record := range stored {
		assert.Equal(t, ids[i], record.ID)
		assert.Equal(t, "docs", record.Collection)
		assert.Equal(t, "doc1", record.SourceID)
		assert.Equal(t, i, record.ChunkIndex)
		assert.Equal(t, records[i].Content, record.Content)
		assert.Equal(t, records[i].Vector, record.Vector)
		assert.Equal(t, records[i].Checksum, record.Checksum)
		assert.Equal(t, "mock-embedding", record.EmbeddingModel)
		assert.Equal(t, "doc1", record.Metadata[core.SourceIDKey])
		assert.Equal(t, i, record.Metadata[core.ChunkIndexKey])
		assert.Equal(t, "Guide", record.Metadata["title"])
	}
}

func testAddRecordsEmpty(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	ids, err := b.AddRecords(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, ids)

	exists, err := b.HasCollection(ctx, "docs")
	require.NoError(t, err)
	assert.False(t, exists, "an empty write does not create the collection")
}

func testDistinctIDs(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	first, err := b.AddRecords(ctx, "docs", NewRecords("doc1", 4)...)
	require.NoError(t, err)
	second, err := b.AddRecords(ctx, "docs", NewRecords("doc1", 4)...)
	require.NoError(t, err)

	seen := make(map[core.ID]bool)
	for _, id := range append(first, second...) {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func testGetBySourceOrdered(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	records := NewRecords("doc1", 5)
	// Insert in reverse chunk order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	_, err := b.AddRecords(ctx, "docs", records...)
	require.NoError(t, err)

	stored, err := b.GetBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for i, record := range stored {
		assert.Equal(t, i, record.ChunkIndex)
	}
}

func testGetBySourceMissing(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	stored, err := b.GetBySource(ctx, "nope", "doc1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func testDeleteBySource(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	_, err := b.AddRecords(ctx, "docs", NewRecords("doc1", 4)...)
	require.NoError(t, err)

	deleted, err := b.DeleteBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	stored, err := b.GetBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	exists, err := b.HasCollection(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, exists, "deleting records keeps the collection")
}

func testDeleteBySourceIdempotent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	deleted, err := b.DeleteBySource(ctx, "nope", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = b.AddRecords(ctx, "docs", NewRecords("doc1", 2)...)
	require.NoError(t, err)

	deleted, err = b.DeleteBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = b.DeleteBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func testDeleteIsolatedBySource(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	_, err := b.AddRecords(ctx, "docs", NewRecords("doc1", 2)...)
	require.NoError(t, err)
	// doc10 shares a prefix with doc1
	_, err = b.AddRecords(ctx, "docs", NewRecords("doc10", 3)...)
	require.NoError(t, err)

	deleted, err := b.DeleteBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	stored, err := b.GetBySource(ctx, "docs", "doc10")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func testCollectionsIsolated(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	_, err := b.AddRecords(ctx, "a", NewRecords("doc1", 2)...)
	require.NoError(t, err)
	_, err = b.AddRecords(ctx, "ab", NewRecords("doc1", 3)...)
	require.NoError(t, err)

	deleted, err := b.DeleteBySource(ctx, "a", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	stored, err := b.GetBySource(ctx, "ab", "doc1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func testDropCollection(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	_, err := b.AddRecords(ctx, "docs", NewRecords("doc1", 3)...)
	require.NoError(t, err)
	_, err = b.AddRecords(ctx, "other", NewRecords("doc1", 1)...)
	require.NoError(t, err)

	require.NoError(t, b.DropCollection(ctx, "docs"))

	exists, err := b.HasCollection(ctx, "docs")
	require.NoError(t, err)
	assert.False(t, exists)

	stored, err := b.GetBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	stored, err = b.GetBySource(ctx, "other", "doc1")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "other collections are untouched")

	// The collection can be recreated by a later write.
	ids, err := b.AddRecords(ctx, "docs", NewRecords("doc1", 1)...)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	stored, err = b.GetBySource(ctx, "docs", "doc1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func testDropMissingCollection(t *testing.T, b storage.Backend) {
	err := b.DropCollection(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func testListCollections(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	infos, err := b.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = b.AddRecords(ctx, "zeta", NewRecords("doc1", 2)...)
	require.NoError(t, err)
	_, err = b.AddRecords(ctx, "alpha", NewRecords("doc1", 3)...)
	require.NoError(t, err)

	infos, err = b.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, 3, infos[0].Records)
	assert.False(t, infos[0].CreatedAt.IsZero())
	assert.Equal(t, "zeta", infos[1].Name)
	assert.Equal(t, 2, infos[1].Records)
}

func testConcurrentAdds(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, err := b.AddRecords(ctx, "docs", NewRecords(fmt.Sprintf("doc%d", w), 3)...)
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	infos, err := b.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, workers*3, infos[0].Records)
}
