package embeddings

import (
	"context"
	"strings"
)

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts. Batching is a
	// throughput concern only: the vectors are identical to embedding
	// each text on its own.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// normalizeInputs replaces embedded newlines with spaces so a chunk's
// line-wrapping doesn't change its embedding.
func normalizeInputs(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ReplaceAll(t, "\n", " ")
	}
	return out
}
