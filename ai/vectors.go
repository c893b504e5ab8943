package ai

import (
	"fmt"

	"github.com/poiesic/chunkstore/core"
)

// ValidateVectors checks an embedding response.
// It requires exactly count vectors, none of them empty, all of length dims.
// When dims is 0 the length of the first vector is used.
// Returns the dimensionality that was enforced.
func ValidateVectors(vectors [][]float32, count, dims int) (int, error) {
	if len(vectors) != count {
		return dims, fmt.Errorf("%w: expected %d embeddings, received %d", core.ErrEmbedding, count, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return dims, fmt.Errorf("%w: embedding %d is empty", core.ErrEmbedding, i)
		}
		if dims == 0 {
			dims = len(v)
		}
		if len(v) != dims {
			return dims, fmt.Errorf("%w: embedding %d has %d dimensions, expected %d", core.ErrEmbedding, i, len(v), dims)
		}
	}
	return dims, nil
}
