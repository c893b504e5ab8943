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

package storage

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/chunkstore/core"
	"github.com/viant/sqlite-vec/vector"
)

// recordEnvelope is the stored form of a core.Record.
type recordEnvelope struct {
	ID             uint64         `json:"id"`
	Collection     string         `json:"collection"`
	SourceID       string         `json:"source_id"`
	ChunkIndex     int            `json:"chunk_index"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Embedding      []byte         `json:"embedding,omitempty"`
	Checksum       string         `json:"checksum,omitempty"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	InsertedAt     int64          `json:"inserted_at"` // unix micro
}

// collectionEnvelope is the stored form of a collection registry entry.
type collectionEnvelope struct {
	CreatedAt int64 `json:"created_at"` // unix micro
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// MarshalRecord serializes a Record to bytes.
func MarshalRecord(record *core.Record) ([]byte, error) {
	embedding, err := EncodeVector(record.Vector)
	if err != nil {
		return nil, err
	}
	env := recordEnvelope{
		ID:             uint64(record.ID),
		Collection:     record.Collection,
		SourceID:       record.SourceID,
		ChunkIndex:     record.ChunkIndex,
		Content:        record.Content,
		Metadata:       record.Metadata,
		Embedding:      embedding,
		Checksum:       record.Checksum,
		EmbeddingModel: record.EmbeddingModel,
		InsertedAt:     record.InsertedAt.UnixMicro(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalRecord deserializes a Record from bytes.
func UnmarshalRecord(data []byte) (*core.Record, error) {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	vec, err := DecodeVector(env.Embedding)
	if err != nil {
		return nil, err
	}
	return &core.Record{
		ID:             core.ID(env.ID),
		Collection:     env.Collection,
		SourceID:       env.SourceID,
		ChunkIndex:     env.ChunkIndex,
		Content:        env.Content,
		Metadata:       NormalizeMetadata(env.Metadata, env.ChunkIndex),
		Vector:         vec,
		Checksum:       env.Checksum,
		EmbeddingModel: env.EmbeddingModel,
		InsertedAt:     time.UnixMicro(env.InsertedAt).UTC(),
	}, nil
}

// MarshalMetadata serializes metadata as JSON.
func MarshalMetadata(metadata core.Metadata) ([]byte, error) {
	if metadata == nil {
		metadata = core.Metadata{}
	}
	data, err := json.Marshal(map[string]any(metadata))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalMetadata deserializes JSON metadata written by MarshalMetadata.
func UnmarshalMetadata(data []byte, chunkIndex int) (core.Metadata, error) {
	var m map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		}
	}
	return NormalizeMetadata(m, chunkIndex), nil
}

// NormalizeMetadata restores the integer chunk index that JSON decoding
// turns into a float64. Other numeric values keep their decoded form.
func NormalizeMetadata(m map[string]any, chunkIndex int) core.Metadata {
	if m == nil {
		return core.Metadata{}
	}
	if _, ok := m[core.ChunkIndexKey]; ok {
		m[core.ChunkIndexKey] = chunkIndex
	}
	return core.Metadata(m)
}

// MarshalCollection serializes a collection registry entry.
func MarshalCollection(createdAt time.Time) ([]byte, error) {
	data, err := json.Marshal(collectionEnvelope{CreatedAt: createdAt.UnixMicro()})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalCollection deserializes a collection registry entry.
func UnmarshalCollection(data []byte) (time.Time, error) {
	var env collectionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return time.UnixMicro(env.CreatedAt).UTC(), nil
}

// EncodeVector encodes an embedding as a little-endian float32 blob.
func EncodeVector(v []float32) ([]byte, error) {
	b, err := vector.EncodeEmbedding(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return b, nil
}

// DecodeVector decodes a blob written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	v, err := vector.DecodeEmbedding(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return v, nil
}
