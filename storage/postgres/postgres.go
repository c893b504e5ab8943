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

// Package postgres provides a storage.Backend on PostgreSQL through the
// pgx database/sql driver. Metadata is stored as JSONB.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poiesic/chunkstore/storage"
	"github.com/poiesic/chunkstore/storage/sqlstore"
)

//go:embed schema.sql
var schema string

// Dialect is the PostgreSQL dialect.
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Schema:   schema,
	Numbered: true,
}

// Open connects to PostgreSQL at dsn, creates the schema and returns a storage.Backend.
func Open(ctx context.Context, dsn string) (storage.Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo, err := sqlstore.New(ctx, db, Dialect, true)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
