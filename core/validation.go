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
	"fmt"
	"strings"
)

// ValidateChunkParams checks a chunking policy.
//
// Validation rules:
//   - chunkSize must be greater than 0
//   - chunkOverlap must be >= 0 and < chunkSize
func ValidateChunkParams(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: %w: got %d", ErrConfiguration, ErrInvalidChunkSize, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return fmt.Errorf("%w: %w: overlap %d, size %d", ErrConfiguration, ErrInvalidChunkOverlap, chunkOverlap, chunkSize)
	}
	return nil
}

// ValidateMetadata checks that metadata carries a non-empty string source_id.
func ValidateMetadata(metadata Metadata) error {
	sourceID, ok := metadata.SourceID()
	if !ok || sourceID == "" {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrMissingSourceID)
	}
	return ValidateSourceID(sourceID)
}

// ValidateSourceID checks a source id used for lookup or deletion.
func ValidateSourceID(sourceID string) error {
	if sourceID == "" || strings.ContainsRune(sourceID, 0) {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrMissingSourceID)
	}
	return nil
}

// ValidateDocument validates a Document before it is embedded.
//
// NOT validated:
//   - Content (an empty chunk is stored as-is)
//   - StoredID (assigned by the backend)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrConfiguration)
	}
	if err := ValidateMetadata(doc.Metadata); err != nil {
		return err
	}
	if doc.ChunkIndex < 0 {
		return fmt.Errorf("%w: %w: %d", ErrConfiguration, ErrInvalidChunkIndex, doc.ChunkIndex)
	}
	return nil
}

// ValidateCollectionName checks a collection name.
func ValidateCollectionName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %w: %q", ErrConfiguration, ErrInvalidCollectionName, name)
	}
	return nil
}
