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

// Package sqlstore implements storage.Backend on database/sql.
//
// The same repository serves the SQLite and PostgreSQL backends; a Dialect
// carries the schema and placeholder style of each database. Collections live
// in a registry table and records in a documents table keyed by an
// auto-incrementing id, with an index on (collection, source_id).
package sqlstore
