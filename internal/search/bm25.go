package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/theomilll/atv-tinoco/internal/store"
)

// BM25 parameters (standard Okapi values).
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Result pairs a chunk with a retrieval score. Produced fresh per query and
// never cached across queries.
type Result struct {
	Chunk         store.Chunk
	DocumentTitle string
	Score         float64
}

// LexicalIndex ranks chunks with BM25 over the completed documents of one
// owner. It keeps a single cached corpus keyed by the last-searched owner;
// querying a different owner rebuilds it. Thrashing across owners is an
// accepted tradeoff of the single slot, not a correctness problem.
type LexicalIndex struct {
	store *store.Store

	mu        sync.Mutex
	ownerID   string
	built     bool
	chunks    []store.Chunk
	titles    map[string]string
	docTokens [][]string
	docFreq   map[string]int
	avgDocLen float64
}

// NewLexicalIndex creates an index backed by the given store.
func NewLexicalIndex(st *store.Store) *LexicalIndex {
	return &LexicalIndex{store: st}
}

// Search returns up to topK chunks ranked by BM25 score. Only chunks with a
// strictly positive score are returned; an empty corpus or a query with no
// usable tokens yields an empty result, never an error.
func (idx *LexicalIndex) Search(ctx context.Context, query, ownerID string, topK int) ([]Result, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.build(ctx, ownerID); err != nil {
		return nil, err
	}
	if len(idx.chunks) == 0 {
		return nil, nil
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	n := float64(len(idx.chunks))
	var results []Result
	for i, tokens := range idx.docTokens {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}

		var score float64
		for _, qt := range queryTokens {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			df := float64(idx.docFreq[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*float64(len(tokens))/idx.avgDocLen
			score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*norm)
		}

		if score > 0 {
			results = append(results, Result{
				Chunk:         idx.chunks[i],
				DocumentTitle: idx.titles[idx.chunks[i].DocumentID],
				Score:         score,
			})
		}
	}

	// Stable sort keeps corpus iteration order for ties. Callers must not
	// depend on tie order.
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Invalidate drops the cached corpus. With an empty ownerID the cache is
// dropped unconditionally; otherwise only if it belongs to that owner. Safe
// to call while a search holds the build lock: the next search rebuilds.
func (idx *LexicalIndex) Invalidate(ownerID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ownerID == "" || idx.ownerID == ownerID {
		idx.built = false
		idx.chunks = nil
		idx.titles = nil
		idx.docTokens = nil
		idx.docFreq = nil
	}
}

// build loads the owner's completed-document chunks and tokenizes them.
// Must be called with the mutex held.
func (idx *LexicalIndex) build(ctx context.Context, ownerID string) error {
	if idx.built && idx.ownerID == ownerID {
		return nil
	}

	chunks, err := idx.store.CompletedChunksByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("loading lexical corpus: %w", err)
	}
	titles, err := idx.store.DocumentTitles(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("loading document titles: %w", err)
	}

	idx.ownerID = ownerID
	idx.built = true
	idx.chunks = chunks
	idx.titles = titles
	idx.docTokens = make([][]string, len(chunks))
	idx.docFreq = make(map[string]int)

	var totalLen int
	for i, c := range chunks {
		tokens := Tokenize(c.Text)
		idx.docTokens[i] = tokens
		totalLen += len(tokens)

		seen := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			if !seen[t] {
				seen[t] = true
				idx.docFreq[t]++
			}
		}
	}
	if len(chunks) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(chunks))
	}
	if idx.avgDocLen == 0 {
		idx.avgDocLen = 1
	}
	return nil
}

// Tokenize lowercases text, maps punctuation to whitespace, splits, and
// discards tokens of 2 runes or fewer. The same tokenizer is applied to
// indexed chunks and to queries.
func Tokenize(text string) []string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	fields := strings.Fields(mapped)
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
