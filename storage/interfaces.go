package storage

import (
	"context"

	"github.com/poiesic/chunkstore/core"
)

// Backend persists records into named collections.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// AddRecords persists records into collection, creating the collection
	// if it does not exist. All records are written in a single transaction:
	// either every record is stored or none is.
	// Assigns ID, Collection and InsertedAt on each record and returns the
	// IDs in input order.
	AddRecords(ctx context.Context, collection string, records ...*core.Record) ([]core.ID, error)

	// DeleteBySource removes every record in collection with the given source id.
	// Returns the number of records removed; 0 when there were none or the
	// collection does not exist.
	DeleteBySource(ctx context.Context, collection, sourceID string) (int, error)

	// DropCollection removes a collection and all of its records.
	// Returns ErrCollectionNotFound if the collection does not exist.
	DropCollection(ctx context.Context, collection string) error

	// HasCollection reports whether the collection exists.
	HasCollection(ctx context.Context, collection string) (bool, error)

	// ListCollections returns every collection ordered by name.
	ListCollections(ctx context.Context) ([]core.CollectionInfo, error)

	// GetBySource returns the records of a source ordered by chunk index.
	// Returns an empty result when there are none.
	GetBySource(ctx context.Context, collection, sourceID string) ([]*core.Record, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
