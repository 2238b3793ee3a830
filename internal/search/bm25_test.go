package search

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"lowercases", "The CAT Slept", []string{"the", "cat", "slept"}},
		{"punctuation splits", "cat,dog;bird!", []string{"cat", "dog", "bird"}},
		{"drops short tokens", "a cat is on it", []string{"cat"}},
		{"keeps digits", "error 404 found", []string{"error", "404", "found"}},
		{"length counts runes not bytes", "ré cré crémé", []string{"cré", "crémé"}},
		{"empty", "", nil},
		{"only punctuation", "... !!! ---", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLexicalSearchScoresPositive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "Animals", []string{
		"The cat slept on the warm windowsill all afternoon.",
		"The dog ran across the muddy field chasing birds.",
		"Rain fell steadily over the quiet harbor town.",
	}, nil)

	idx := NewLexicalIndex(s)
	results, err := idx.Search(ctx, "cat windowsill", "alice", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1: %v", len(results), resultTexts(results))
	}
	if !strings.Contains(results[0].Chunk.Text, "cat") {
		t.Errorf("top result = %q", results[0].Chunk.Text)
	}
	for _, r := range results {
		if r.Score <= 0 {
			t.Errorf("result %q has non-positive score %v", r.Chunk.Text, r.Score)
		}
	}
}

func TestLexicalSearchRanksByRelevance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "Animals", []string{
		"cat cat cat and nothing else besides the cat",
		"one cat wandered through the garden among many flowers",
	}, nil)

	idx := NewLexicalIndex(s)
	results, err := idx.Search(ctx, "cat", "alice", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if !strings.HasPrefix(results[0].Chunk.Text, "cat cat cat") {
		t.Errorf("higher term frequency should rank first, got %q", results[0].Chunk.Text)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestLexicalSearchTopK(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "Animals", []string{
		"the cat slept here",
		"another cat slept there",
		"a third cat slept somewhere",
	}, nil)

	idx := NewLexicalIndex(s)
	results, err := idx.Search(ctx, "cat slept", "alice", 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Search() with topK=2 returned %d results", len(results))
	}
}

func TestLexicalSearchEmptyQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "Animals", []string{"the cat slept"}, nil)

	idx := NewLexicalIndex(s)
	for _, query := range []string{"", "of at in", "!!!"} {
		results, err := idx.Search(ctx, query, "alice", 10)
		if err != nil {
			t.Fatalf("Search(%q) error: %v", query, err)
		}
		if len(results) != 0 {
			t.Errorf("Search(%q) = %v, want none", query, resultTexts(results))
		}
	}
}

func TestLexicalIndexInvalidate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "Animals", []string{"the cat slept"}, nil)

	idx := NewLexicalIndex(s)
	if _, err := idx.Search(ctx, "cat", "alice", 10); err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	// New content is invisible until the cache is dropped for this owner.
	seedDocument(t, s, "alice", "More", []string{"the dog ran"}, nil)
	results, _ := idx.Search(ctx, "dog", "alice", 10)
	if len(results) != 0 {
		t.Fatalf("stale cache already sees new chunk: %v", resultTexts(results))
	}

	idx.Invalidate("bob")
	results, _ = idx.Search(ctx, "dog", "alice", 10)
	if len(results) != 0 {
		t.Errorf("Invalidate for another owner dropped the cache")
	}

	idx.Invalidate("alice")
	results, err := idx.Search(ctx, "dog", "alice", 10)
	if err != nil {
		t.Fatalf("Search() after invalidate error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Search() after invalidate = %v, want the dog chunk", resultTexts(results))
	}

	// Empty owner drops unconditionally.
	idx.Invalidate("")
	if idx.built {
		t.Error("Invalidate(\"\") left the cache built")
	}
}

func TestLexicalIndexSwitchesOwners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "A", []string{"the cat slept"}, nil)
	seedDocument(t, s, "bob", "B", []string{"the dog ran"}, nil)

	idx := NewLexicalIndex(s)
	results, err := idx.Search(ctx, "cat", "alice", 10)
	if err != nil || len(results) != 1 {
		t.Fatalf("alice search = %v, %v", resultTexts(results), err)
	}

	// Single-slot cache rebuilds for the other owner.
	results, err = idx.Search(ctx, "dog", "bob", 10)
	if err != nil || len(results) != 1 {
		t.Fatalf("bob search = %v, %v", resultTexts(results), err)
	}
	results, _ = idx.Search(ctx, "cat", "bob", 10)
	if len(results) != 0 {
		t.Errorf("bob sees alice's chunks: %v", resultTexts(results))
	}
}

func TestLexicalIndexConcurrentSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedDocument(t, s, "alice", "Animals", []string{"the cat slept", "the dog ran"}, nil)

	idx := NewLexicalIndex(s)
	done := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := idx.Search(ctx, "cat", "alice", 10)
			done <- err
		}()
		go func() {
			idx.Invalidate("alice")
			done <- nil
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent Search() error: %v", err)
		}
	}
}
