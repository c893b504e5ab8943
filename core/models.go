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


package core

import (
	"encoding/hex"
	"maps"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

const (
	// DefaultCollectionName is used when no collection name is configured.
	DefaultCollectionName = "MyRAGApp"

	// SourceIDKey is the metadata key identifying the originating document.
	SourceIDKey = "source_id"

	// ChunkIndexKey is the metadata key carrying a chunk's position in its source text.
	ChunkIndexKey = "chunk_index"
)

// ID is a backend-assigned identifier for a persisted record.
// It is distinct from the caller-supplied source id.
type ID uint64

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Checksum returns a BLAKE2b-64 fingerprint of text as lowercase hex.
// Identical content always produces the same checksum.
func Checksum(text string) string {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Metadata is the caller-supplied key/value data attached to every chunk.
// It must contain SourceIDKey.
type Metadata map[string]any

// SourceID returns the source id stored in the metadata, if it is a string.
func (m Metadata) SourceID() (string, bool) {
	v, ok := m[SourceIDKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// WithChunkIndex returns a copy of the metadata with ChunkIndexKey set.
// The receiver is never modified.
func (m Metadata) WithChunkIndex(index int) Metadata {
	out := m.Clone()
	out[ChunkIndexKey] = index
	return out
}

// Document is a chunk of text waiting to be embedded and stored.
type Document struct {
	Content    string
	Metadata   Metadata
	ChunkIndex int // Position within the original text
	StoredID   ID  // Zero until persisted
}

// Record is a persisted Document together with its embedding.
// Records are never updated in place; a source is replaced by deleting
// its records and ingesting it again.
type Record struct {
	ID             ID
	Collection     string
	SourceID       string
	ChunkIndex     int
	Content        string
	Metadata       Metadata
	Vector         []float32
	Checksum       string    // BLAKE2b-64 hex of Content
	EmbeddingModel string    // Model that produced Vector, if known
	InsertedAt     time.Time // When the record was written
}

// DeleteResult reports the outcome of deleting a source's records.
type DeleteResult struct {
	DeletedCount int    `json:"deleted_count"`
	Collection   string `json:"collection"`
}

// CollectionInfo describes a collection known to a backend.
type CollectionInfo struct {
	Name      string
	Records   int
	CreatedAt time.Time
}
