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

// Package mock provides test doubles for the embedding interfaces.
//
// The mocks let tests run without an embedding service and give
// deterministic vectors: the same text always maps to the same vector.
//
// # Usage in Tests
//
//	mockEmbedder := mock.NewMockEmbedder()
//	vectors, err := mockEmbedder.EmbedDocuments(ctx, []string{"test"})
//
//	// Custom behavior injection
//	mockEmbedder.WithEmbedDocumentsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("provider down")
//	})
//
//	// Check call counts
//	count := mockEmbedder.CallCount()
//
// All mocks are safe for concurrent use.
package mock
