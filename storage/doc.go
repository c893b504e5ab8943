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

// Package storage provides the persistence abstraction for chunkstore.
//
// Backend decouples the vector store from the database that holds records.
// Implementations:
//
//   - storage/badger: embedded BadgerDB (on disk or in memory)
//   - storage/sqlite: SQLite through modernc.org/sqlite
//   - storage/postgres: PostgreSQL through pgx
//
// Every implementation passes the conformance suite in storage/storagetest.
//
// # Constructor Return Type Pattern
//
// Public constructors return the storage.Backend interface:
//
//	backend, err := badger.Open("/path/to/db")  // returns storage.Backend
//
// Package-internal constructors may return concrete types.
//
// # Records
//
// Records are immutable once written. Each record belongs to one collection
// and one source; collections are created implicitly by the first write and
// removed as a whole by DropCollection. IDs are assigned by the backend from a
// sequence (badger) or an auto-incrementing key (SQL) and are never reused
// within a database.
//
// # Usage
//
//	backend, err := badger.Open("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	ids, err := backend.AddRecords(ctx, "MyRAGApp", records...)
package storage
