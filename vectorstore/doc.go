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

// Package vectorstore turns text into persisted, embedded chunk records.
//
// A Store binds one storage.Backend, one ai.Embedder and one active
// collection. SplitAndStoreText chunks text, tags each chunk with the
// caller's metadata plus its chunk_index, embeds the chunks and persists
// them; DeleteEmbeddings removes everything stored for a source_id; and
// DropCollection removes a whole collection.
//
// # Consistency
//
// AddDocuments is all-or-nothing: every vector is computed before anything
// is written, and the records are written in a single backend transaction.
// An embedding failure leaves the collection untouched.
//
// # Errors
//
// Errors wrap one of core.ErrConfiguration, core.ErrEmbedding,
// core.ErrStorage or core.ErrNotFound. Configuration errors are reported
// before any embedding or storage call is made.
//
// # Usage
//
//	store, err := vectorstore.New(backend, provider.Embedder(),
//	    vectorstore.WithCollection("handbook"),
//	    vectorstore.WithEmbeddingModel(provider.Model()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Release()
//
//	ids, err := store.SplitAndStoreText(ctx, text, core.Metadata{"source_id": "doc1"},
//	    vectorstore.DefaultChunkSize, vectorstore.DefaultChunkOverlap)
package vectorstore
