package sqlstore

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/storage"
)

// Repository implements storage.Backend over a *sql.DB.
type Repository struct {
	db        *sql.DB
	dialect   Dialect
	ownsDB    bool
	closed    bool
	closeOnce sync.Once
	mu        sync.RWMutex
	logger    *slog.Logger
}

var _ storage.Backend = (*Repository)(nil)

// New creates the schema on db and returns a repository using it.
// When ownsDB is true, Close closes db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, ownsDB bool) (*Repository, error) {
	if _, err := db.ExecContext(ctx, dialect.Schema); err != nil {
		return nil, fmt.Errorf("create %s schema: %w", dialect.Name, err)
	}
	return &Repository{
		db:      db,
		dialect: dialect,
		ownsDB:  ownsDB,
		logger:  slog.Default().With("component", dialect.Name),
	}, nil
}

// DB exposes the underlying sql.DB.
func (r *Repository) DB() *sql.DB { return r.db }

// Close closes the database if the repository owns it.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		if r.ownsDB {
			err = r.db.Close()
		}
	})
	return err
}

func (r *Repository) checkOpen(ctx context.Context) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return storage.ErrStorageClosed
	}
	return ctx.Err()
}

func (r *Repository) q(query string) string {
	return r.dialect.rebind(query)
}

// withTx runs fn in a transaction, committing when fn succeeds.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AddRecords inserts records into a collection in a single transaction.
func (r *Repository) AddRecords(ctx context.Context, collection string, records ...*core.Record) ([]core.ID, error) {
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []core.ID{}, nil
	}

	type row struct {
		meta      []byte
		embedding []byte
	}
	rows := make([]row, len(records))
	for i, record := range records {
		meta, err := storage.MarshalMetadata(record.Metadata)
		if err != nil {
			return nil, err
		}
		embedding, err := storage.EncodeVector(record.Vector)
		if err != nil {
			return nil, err
		}
		rows[i] = row{meta: meta, embedding: embedding}
	}

	now := time.Now().UTC()
	ids := make([]core.ID, len(records))
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			r.q(`INSERT INTO collections (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`),
			collection, now.UnixMicro())
		if err != nil {
			return fmt.Errorf("register collection: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, r.q(`
			INSERT INTO documents (
				collection, source_id, chunk_index, content, meta,
				checksum, embedding, embedding_model, inserted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, record := range records {
			var id int64
			err := stmt.QueryRowContext(ctx,
				collection, record.SourceID, record.ChunkIndex, record.Content, string(rows[i].meta),
				record.Checksum, rows[i].embedding, record.EmbeddingModel, now.UnixMicro(),
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("insert record: %w", err)
			}
			ids[i] = core.ID(id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, record := range records {
		record.ID = ids[i]
		record.Collection = collection
		record.InsertedAt = time.UnixMicro(now.UnixMicro()).UTC()
	}
	return ids, nil
}

// DeleteBySource removes every record of a source from a collection.
func (r *Repository) DeleteBySource(ctx context.Context, collection, sourceID string) (int, error) {
	if err := r.checkOpen(ctx); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		r.q(`DELETE FROM documents WHERE collection = ? AND source_id = ?`),
		collection, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return int(n), nil
}

// DropCollection removes a collection and its records.
func (r *Repository) DropCollection(ctx context.Context, collection string) error {
	if err := r.checkOpen(ctx); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM collections WHERE name = ?`), collection)
		if err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		if n == 0 {
			return storage.ErrCollectionNotFound
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM documents WHERE collection = ?`), collection); err != nil {
			return fmt.Errorf("drop collection records: %w", err)
		}
		return nil
	})
}

// HasCollection reports whether a collection is registered.
func (r *Repository) HasCollection(ctx context.Context, collection string) (bool, error) {
	if err := r.checkOpen(ctx); err != nil {
		return false, err
	}
	var n int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM collections WHERE name = ?`), collection).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query collection: %w", err)
	}
	return n > 0, nil
}

// ListCollections returns every collection with its record count.
func (r *Repository) ListCollections(ctx context.Context) ([]core.CollectionInfo, error) {
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.name, c.created_at, COUNT(d.id)
		FROM collections c
		LEFT JOIN documents d ON d.collection = c.name
		GROUP BY c.name, c.created_at`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	result := []core.CollectionInfo{}
	for rows.Next() {
		var info core.CollectionInfo
		var createdAt int64
		if err := rows.Scan(&info.Name, &createdAt, &info.Records); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		info.CreatedAt = time.UnixMicro(createdAt).UTC()
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	// Byte order, independent of database collation.
	slices.SortFunc(result, func(a, b core.CollectionInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return result, nil
}

// GetBySource returns the records of a source ordered by chunk index.
func (r *Repository) GetBySource(ctx context.Context, collection, sourceID string) ([]*core.Record, error) {
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, chunk_index, content, meta, checksum, embedding, embedding_model, inserted_at
		FROM documents
		WHERE collection = ? AND source_id = ?
		ORDER BY chunk_index, id`), collection, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []*core.Record{}
	for rows.Next() {
		var (
			id         int64
			meta       string
			embedding  []byte
			insertedAt int64
		)
		record := &core.Record{Collection: collection, SourceID: sourceID}
		err := rows.Scan(&id, &record.ChunkIndex, &record.Content, &meta,
			&record.Checksum, &embedding, &record.EmbeddingModel, &insertedAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		record.ID = core.ID(id)
		record.InsertedAt = time.UnixMicro(insertedAt).UTC()
		if record.Metadata, err = storage.UnmarshalMetadata([]byte(meta), record.ChunkIndex); err != nil {
			return nil, err
		}
		if record.Vector, err = storage.DecodeVector(embedding); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
