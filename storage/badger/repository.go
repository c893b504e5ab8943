package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/storage"
)

// maxConflictRetries bounds retries when concurrent writers create the same collection.
const maxConflictRetries = 3

// Repository implements storage.Backend for BadgerDB.
type Repository struct {
	backend   *Backend
	idSeq     *badger.Sequence
	ownsDB    bool
	closeOnce sync.Once

	// Transaction limits used to split large writes.
	maxBatchBytes   int64
	maxBatchEntries int64
	valueThreshold  int64

	// dropMu keeps DropPrefix from racing in-flight writes.
	dropMu sync.RWMutex
}

var _ storage.Backend = (*Repository)(nil)

// NewRepository creates a new Repository on an open backend.
// The caller keeps ownership of the backend.
func NewRepository(backend *Backend) (*Repository, error) {
	idSeq, err := backend.GetSequence(recordIDSeq)
	if err != nil {
		return nil, err
	}

	maxBytes, maxEntries, threshold := backend.BatchLimits()
	return &Repository{
		backend:         backend,
		idSeq:           idSeq,
		maxBatchBytes:   maxBytes,
		maxBatchEntries: maxEntries,
		valueThreshold:  threshold,
	}, nil
}

// Open opens a BadgerDB database at path and returns a storage.Backend over it.
// Closing the returned backend closes the database.
func Open(path string) (storage.Backend, error) {
	return open(path, false)
}

// OpenMemory returns a storage.Backend over an in-memory BadgerDB database.
func OpenMemory() (storage.Backend, error) {
	return open("", true)
}

func open(path string, inMemory bool) (*Repository, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	repo, err := NewRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	repo.ownsDB = true
	return repo, nil
}

// Close releases the ID sequence and, when owned, the database.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.idSeq.Release()
		if r.ownsDB {
			err = errors.Join(err, r.backend.Close())
		}
	})
	return err
}

func (r *Repository) checkOpen(ctx context.Context) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return ctx.Err()
}

func (r *Repository) nextID() (core.ID, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(nextID), nil
}

// AddRecords adds records to a collection.
// Records are written in as few transactions as badger's batch limits allow.
// When a later transaction fails, or ctx ends between transactions, records
// committed by earlier ones are deleted again, so a failed call leaves no
// records behind.
func (r *Repository) AddRecords(ctx context.Context, collection string, records ...*core.Record) ([]core.ID, error) {
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []core.ID{}, nil
	}

	r.dropMu.RLock()
	defer r.dropMu.RUnlock()

	ids := make([]core.ID, len(records))
	for i := range records {
		id, err := r.nextID()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	now := time.Now().UTC()
	entries := make([]recordEntry, len(records))
	for i, record := range records {
		record.ID = ids[i]
		record.Collection = collection
		record.InsertedAt = now

		value, err := storage.MarshalRecord(record)
		if err != nil {
			return nil, err
		}
		entries[i] = recordEntry{
			key:       makeRecordKey(collection, record.ID),
			value:     value,
			sourceKey: makeSourceKey(collection, record.SourceID, record.ID),
			sourceVal: storage.MarshalID(record.ID),
		}
	}

	batches, err := r.splitBatches(collection, entries)
	if err != nil {
		return nil, err
	}

	var committed []recordEntry
	for n, batch := range batches {
		err := ctx.Err()
		if err == nil {
			err = r.writeBatch(collection, batch, now, n == 0)
		}
		if err != nil {
			if errors.Is(err, badger.ErrTxnTooBig) {
				err = fmt.Errorf("%w: batch of %d records: %w", storage.ErrRecordTooLarge, len(batch), err)
			}
			if len(committed) > 0 {
				r.backend.logger.Warn("removing partially written records", "collection", collection, "records", len(committed), "err", err)
				if rbErr := r.removeEntries(committed); rbErr != nil {
					err = errors.Join(err, fmt.Errorf("remove partial write: %w", rbErr))
				}
			}
			return nil, err
		}
		committed = append(committed, batch...)
	}
	if len(batches) > 1 {
		r.backend.logger.Debug("wrote records in several transactions", "collection", collection, "records", len(records), "transactions", len(batches))
	}
	return ids, nil
}

// recordEntry holds the two keys written for one record.
type recordEntry struct {
	key, value           []byte
	sourceKey, sourceVal []byte
}

// entryOverhead mirrors badger's per-entry accounting (metadata plus key version).
const entryOverhead = 12

// valuePointerSize is what badger counts for a value at or above the threshold.
const valuePointerSize = 12

// size estimates the transaction bytes the two entries of a record take.
func (e recordEntry) size(threshold int64) int64 {
	value := int64(len(e.value))
	if threshold > 0 && value >= threshold {
		value = valuePointerSize
	}
	return int64(len(e.key)+len(e.sourceKey)+len(e.sourceVal)) + value + 2*entryOverhead
}

// splitBatches groups entries so that each group fits in one transaction,
// leaving room for the collection registry entry.
func (r *Repository) splitBatches(collection string, entries []recordEntry) ([][]recordEntry, error) {
	maxSize, maxCount := r.maxBatchBytes, r.maxBatchEntries
	reserve := int64(len(makeCollectionKey(collection))) + 64 + entryOverhead

	var batches [][]recordEntry
	start, size, count := 0, reserve, int64(1)
	for i, e := range entries {
		entrySize := e.size(r.valueThreshold)
		if reserve+entrySize >= maxSize {
			return nil, fmt.Errorf("%w: record %d needs %d bytes, limit is %d", storage.ErrRecordTooLarge, i, entrySize, maxSize)
		}
		if i > start && (size+entrySize >= maxSize || count+2 >= maxCount) {
			batches = append(batches, entries[start:i])
			start, size, count = i, reserve, 1
		}
		size += entrySize
		count += 2
	}
	return append(batches, entries[start:]), nil
}

// writeBatch commits one group of entries, retrying on conflicts.
func (r *Repository) writeBatch(collection string, batch []recordEntry, now time.Time, register bool) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.backend.WithTx(func(tx *badger.Txn) error {
			if register {
				if err := ensureCollection(tx, collection, now); err != nil {
					return err
				}
			}
			for _, e := range batch {
				if err := tx.Set(e.key, e.value); err != nil {
					return err
				}
				if err := tx.Set(e.sourceKey, e.sourceVal); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.backend.logger.Debug("transaction conflict, retrying", "collection", collection, "attempt", attempt+1)
	}
	return err
}

// removeEntries deletes the keys of entries already committed.
func (r *Repository) removeEntries(entries []recordEntry) error {
	return r.backend.WithWriteBatch(func(wb *badger.WriteBatch) error {
		for _, e := range entries {
			if err := wb.Delete(e.key); err != nil {
				return err
			}
			if err := wb.Delete(e.sourceKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// ensureCollection registers a collection if it is not yet known.
func ensureCollection(tx *badger.Txn, collection string, now time.Time) error {
	key := makeCollectionKey(collection)
	_, err := tx.Get(key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	value, err := storage.MarshalCollection(now)
	if err != nil {
		return err
	}
	return tx.Set(key, value)
}

// DeleteBySource removes every record of a source from a collection.
func (r *Repository) DeleteBySource(ctx context.Context, collection, sourceID string) (int, error) {
	if err := r.checkOpen(ctx); err != nil {
		return 0, err
	}

	r.dropMu.RLock()
	defer r.dropMu.RUnlock()

	var keys [][]byte
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialSourceKey(collection, sourceID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			id, err := idFromSourceItem(item)
			if err != nil {
				return err
			}
			keys = append(keys, item.KeyCopy(nil), makeRecordKey(collection, id))
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = r.backend.WithWriteBatch(func(wb *badger.WriteBatch) error {
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys) / 2, nil
}

func idFromSourceItem(item *badger.Item) (core.ID, error) {
	var id core.ID
	err := item.Value(func(val []byte) error {
		var err error
		id, err = storage.UnmarshalID(val)
		return err
	})
	return id, err
}

// DropCollection removes a collection, its records and its index entries.
func (r *Repository) DropCollection(ctx context.Context, collection string) error {
	if err := r.checkOpen(ctx); err != nil {
		return err
	}

	r.dropMu.Lock()
	defer r.dropMu.Unlock()

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCollectionKey(collection)
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrCollectionNotFound
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	return r.backend.DropPrefix(makeRecordPrefix(collection), makeSourceCollectionPrefix(collection))
}

// HasCollection reports whether a collection is registered.
func (r *Repository) HasCollection(ctx context.Context, collection string) (bool, error) {
	if err := r.checkOpen(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(makeCollectionKey(collection))
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}, false)
	return exists, err
}

// ListCollections returns every registered collection with its record count.
func (r *Repository) ListCollections(ctx context.Context) ([]core.CollectionInfo, error) {
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	result := []core.CollectionInfo{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			name := strings.TrimPrefix(string(item.Key()), collectionPrefix)
			var createdAt time.Time
			err := item.Value(func(val []byte) error {
				var err error
				createdAt, err = storage.UnmarshalCollection(val)
				return err
			})
			if err != nil {
				return err
			}
			result = append(result, core.CollectionInfo{
				Name:      name,
				Records:   countPrefix(tx, makeRecordPrefix(name)),
				CreatedAt: createdAt,
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(result, func(a, b core.CollectionInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func countPrefix(tx *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	count := 0
	for iter.Rewind(); iter.Valid(); iter.Next() {
		count++
	}
	return count
}

// GetBySource returns every record of a source ordered by chunk index.
func (r *Repository) GetBySource(ctx context.Context, collection, sourceID string) ([]*core.Record, error) {
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	records := []*core.Record{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialSourceKey(collection, sourceID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id, err := idFromSourceItem(iter.Item())
			if err != nil {
				return err
			}
			record, err := readRecord(tx, makeRecordKey(collection, id))
			if err != nil {
				return err
			}
			if record == nil {
				// Dangling index entry
				continue
			}
			records = append(records, record)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b *core.Record) int {
		if c := cmp.Compare(a.ChunkIndex, b.ChunkIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return records, nil
}

// readRecord reads a single record. Returns nil when the key is absent.
func readRecord(tx *badger.Txn, key []byte) (*core.Record, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var record *core.Record
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalRecord(val)
		return err
	})
	return record, err
}
