package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/theomilll/atv-tinoco/internal/store"
)

// SemanticIndex scores chunks by cosine similarity between a query vector
// and each stored embedding. The scan is exhaustive and exact; no
// approximate-nearest-neighbor structure is involved.
type SemanticIndex struct {
	store *store.Store
}

// NewSemanticIndex creates a semantic index backed by the given store.
func NewSemanticIndex(st *store.Store) *SemanticIndex {
	return &SemanticIndex{store: st}
}

// Search scans every embedded chunk of the owner's completed documents,
// skipping candidates whose dimensionality differs from the query vector.
// Results are sorted by descending similarity and truncated to topK. No
// score threshold is applied: weak matches still carry rank information
// for fusion.
func (idx *SemanticIndex) Search(ctx context.Context, queryVec []float32, ownerID string, topK int) ([]Result, error) {
	candidates, err := idx.store.EmbeddedChunksByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading embedded chunks: %w", err)
	}

	var results []Result
	for _, c := range candidates {
		if len(c.Vector) != len(queryVec) {
			continue
		}
		results = append(results, Result{
			Chunk:         c.Chunk,
			DocumentTitle: c.DocumentTitle,
			Score:         CosineSimilarity(queryVec, c.Vector),
		})
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|), or 0 when either vector
// has zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	norm := math.Sqrt(normA) * math.Sqrt(normB)
	if norm == 0 {
		return 0
	}
	return dot / norm
}
