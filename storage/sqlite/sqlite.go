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

// Package sqlite provides a storage.Backend on SQLite using the pure-Go
// modernc.org/sqlite driver. Embeddings are stored as little-endian float32
// blobs compatible with sqlite-vec.
package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/chunkstore/storage"
	"github.com/poiesic/chunkstore/storage/sqlstore"
	"github.com/viant/sqlite-vec/engine"
)

const defaultBusyTimeoutMS = 5000

//go:embed schema.sql
var schema string

// Dialect is the SQLite dialect.
var Dialect = sqlstore.Dialect{
	Name:   "sqlite",
	Schema: schema,
}

// Open opens (creating if needed) a SQLite database and returns a storage.Backend.
// dsn is a file path or ":memory:".
func Open(ctx context.Context, dsn string) (storage.Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: dsn required")
	}
	inMemory := isMemory(dsn)
	if !inMemory {
		if err := ensureParentDir(dsn); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
			dsn = "file:" + dsn
		}
	}

	db, err := engine.Open(EnsurePragmas(dsn, true, defaultBusyTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}
	if err := engine.RegisterVectorFunctions(db); err != nil {
		db.Close()
		return nil, err
	}

	repo, err := sqlstore.New(ctx, db, Dialect, true)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func isMemory(dsn string) bool {
	lower := strings.ToLower(dsn)
	return dsn == ":memory:" || strings.HasPrefix(lower, "file::memory:") || strings.Contains(lower, "mode=memory")
}

func ensureParentDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// EnsurePragmas appends SQLite pragmas to the DSN when missing.
// It is a no-op for in-memory databases.
func EnsurePragmas(dsn string, wal bool, busyTimeoutMS int) string {
	if dsn == "" || isMemory(dsn) {
		return dsn
	}
	lower := strings.ToLower(dsn)
	if wal && !strings.Contains(lower, "_pragma=journal_mode") {
		dsn = addPragma(dsn, "journal_mode(WAL)")
	}
	if busyTimeoutMS > 0 && !strings.Contains(lower, "_pragma=busy_timeout") {
		dsn = addPragma(dsn, fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	}
	return dsn
}

func addPragma(dsn, pragma string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + pragma
}
