package vectorstore

import "errors"

var (
	// ErrBackendRequired indicates that a storage backend was not provided.
	ErrBackendRequired = errors.New("storage backend is required")

	// ErrEmbedderRequired indicates that an embedder was not provided.
	ErrEmbedderRequired = errors.New("embedder is required")
)
