package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/theomilll/atv-tinoco/internal/embeddings"
	"github.com/theomilll/atv-tinoco/internal/store"
)

// Retriever composes lexical and semantic search into hybrid retrieval.
type Retriever struct {
	lexical  *LexicalIndex
	semantic *SemanticIndex
	embedder embeddings.Embedder

	// CandidateK is how many results each signal contributes to fusion.
	CandidateK int
	// Hybrid toggles rank fusion; when false only semantic search runs.
	Hybrid bool
}

// NewRetriever creates a hybrid retriever over the given store and embedder.
func NewRetriever(st *store.Store, embedder embeddings.Embedder) *Retriever {
	return &Retriever{
		lexical:    NewLexicalIndex(st),
		semantic:   NewSemanticIndex(st),
		embedder:   embedder,
		CandidateK: 10,
		Hybrid:     true,
	}
}

// Invalidate drops the cached lexical corpus for an owner (or all owners
// when empty). Call after documents change.
func (r *Retriever) Invalidate(ownerID string) {
	r.lexical.Invalidate(ownerID)
}

// Retrieve returns the topK most relevant chunks for the query within one
// owner's completed documents. With hybrid enabled, lexical and semantic
// rankings run concurrently and are merged with RRF; if either signal comes
// back empty the other is returned alone — degradation, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, ownerID string, topK int) ([]Result, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}
	queryVec := vecs[0]

	if !r.Hybrid {
		return r.semantic.Search(ctx, queryVec, ownerID, topK)
	}

	candidateK := r.CandidateK
	if candidateK < topK {
		candidateK = topK
	}

	var semanticResults, lexicalResults []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semanticResults, err = r.semantic.Search(gctx, queryVec, ownerID, candidateK)
		return err
	})
	g.Go(func() error {
		var err error
		lexicalResults, err = r.lexical.Search(gctx, query, ownerID, candidateK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(semanticResults) == 0 {
		return truncate(lexicalResults, topK), nil
	}
	if len(lexicalResults) == 0 {
		return truncate(semanticResults, topK), nil
	}

	fused := Fuse([][]Result{semanticResults, lexicalResults}, DefaultRRFK)
	return truncate(fused, topK), nil
}

func truncate(results []Result, topK int) []Result {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}
