// Package ingestion drives a vector store over many sources.
//
// The Pipeline type wraps a vectorstore.VectorStore and adds what the store
// leaves to its callers:
//   - Per-source serialization, so two writes for one source never interleave
//   - Replace semantics (delete everything for a source, then re-ingest)
//   - Retry with exponential backoff for embedding and storage failures
//   - Bulk ingestion across a worker pool with progress reporting
//
// Configuration errors are never retried.
package ingestion
