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

import "errors"

// Error kinds. Every error returned by the vector store wraps exactly one
// of these so callers can tell them apart with errors.Is.
var (
	// ErrConfiguration indicates invalid chunk parameters or metadata.
	// It is always returned before any embedding or storage I/O.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmbedding indicates the embedding provider failed or returned
	// an unusable response.
	ErrEmbedding = errors.New("embedding error")

	// ErrStorage indicates the storage backend failed to write, delete or drop.
	ErrStorage = errors.New("storage error")

	// ErrNotFound indicates a collection that was required to exist does not.
	ErrNotFound = errors.New("not found")
)

// Domain validation errors
var (
	// ErrMissingSourceID indicates metadata without a usable source_id.
	ErrMissingSourceID = errors.New("metadata must contain a non-empty string source_id")

	// ErrInvalidChunkSize indicates a chunk size that is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be greater than 0")

	// ErrInvalidChunkOverlap indicates an overlap that is negative or not smaller than the chunk size.
	ErrInvalidChunkOverlap = errors.New("chunk overlap must be >= 0 and smaller than chunk size")

	// ErrInvalidChunkIndex indicates a negative chunk index or one that disagrees with the metadata.
	ErrInvalidChunkIndex = errors.New("invalid chunk index")

	// ErrInvalidCollectionName indicates an empty collection name or one containing NUL.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Kind returns a short name for the error kind wrapped by err,
// or "internal" if err wraps none of them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEmbedding):
		return "embedding"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
