package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/theomilll/atv-tinoco/internal/store"
)

// mockEmbedder produces deterministic vectors from a tiny fixed vocabulary,
// so semantic similarity in tests follows word overlap.
type mockEmbedder struct {
	vocab []string
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{vocab: []string{"cat", "dog", "sat", "slept", "sleeping", "ran"}}
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(m.vocab))
		lower := strings.ToLower(text)
		for j, word := range m.vocab {
			if strings.Contains(lower, word) {
				vec[j] = 1
			}
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (m *mockEmbedder) Dimensions() int { return len(m.vocab) }
func (m *mockEmbedder) Name() string    { return "mock" }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedder unavailable")
}
func (failingEmbedder) Dimensions() int { return 0 }
func (failingEmbedder) Name() string    { return "failing" }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDocument creates a completed document with one chunk per text and,
// when an embedder is given, an embedding per chunk.
func seedDocument(t *testing.T, s *store.Store, owner, title string, texts []string, embedder *mockEmbedder) []store.Chunk {
	t.Helper()
	ctx := context.Background()

	d := &store.Document{OwnerID: owner, Title: title, MediaType: "text/plain", Status: store.StatusCompleted}
	if err := s.CreateDocument(ctx, d); err != nil {
		t.Fatalf("CreateDocument() error: %v", err)
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{DocumentID: d.ID, SequenceIndex: i, Text: text}
	}
	if err := s.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks() error: %v", err)
	}

	if embedder != nil {
		vecs, _ := embedder.Embed(ctx, texts)
		embs := make([]store.Embedding, len(chunks))
		for i := range chunks {
			embs[i] = store.Embedding{ChunkID: chunks[i].ID, Vector: vecs[i], Model: embedder.Name()}
		}
		if err := s.SaveEmbeddings(ctx, embs); err != nil {
			t.Fatalf("SaveEmbeddings() error: %v", err)
		}
	}
	return chunks
}

func resultTexts(results []Result) []string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
	}
	return texts
}

func TestRetrieveHybridRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	embedder := newMockEmbedder()
	seedDocument(t, s, "alice", "Pets", []string{
		"The cat sat. The cat slept.",
		"The dog ran.",
	}, embedder)

	r := NewRetriever(s, embedder)
	results, err := r.Retrieve(ctx, "cat sleeping", "alice", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Retrieve() returned %d results, want 2: %v", len(results), resultTexts(results))
	}
	if !strings.Contains(results[0].Chunk.Text, "cat") {
		t.Errorf("top result = %q, want the cat chunk", results[0].Chunk.Text)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("fused scores not descending: %v then %v", results[0].Score, results[1].Score)
	}
	if results[0].DocumentTitle != "Pets" {
		t.Errorf("DocumentTitle = %q, want %q", results[0].DocumentTitle, "Pets")
	}
}

func TestRetrieveSemanticOnlyWhenHybridOff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	embedder := newMockEmbedder()
	seedDocument(t, s, "alice", "Pets", []string{"The cat slept.", "The dog ran."}, embedder)

	r := NewRetriever(s, embedder)
	r.Hybrid = false
	results, err := r.Retrieve(ctx, "cat sleeping", "alice", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) == 0 || !strings.Contains(results[0].Chunk.Text, "cat") {
		t.Errorf("semantic-only top result = %v, want the cat chunk first", resultTexts(results))
	}
	// Raw cosine scores, not RRF sums.
	if results[0].Score > 1.0 {
		t.Errorf("semantic-only score = %v, want a cosine value <= 1", results[0].Score)
	}
}

func TestRetrieveFallsBackWhenOneSignalEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	embedder := newMockEmbedder()
	// Chunks without embeddings: the semantic signal comes back empty and
	// the lexical ranking is returned alone.
	seedDocument(t, s, "alice", "Pets", []string{"The cat slept soundly.", "The dog ran away."}, nil)

	r := NewRetriever(s, embedder)
	results, err := r.Retrieve(ctx, "cat slept", "alice", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) == 0 || !strings.Contains(results[0].Chunk.Text, "cat") {
		t.Errorf("lexical fallback results = %v, want the cat chunk first", resultTexts(results))
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	s := newTestStore(t)
	r := NewRetriever(s, newMockEmbedder())
	results, err := r.Retrieve(context.Background(), "anything at all", "alice", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Retrieve() on empty corpus = %v, want none", resultTexts(results))
	}
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	s := newTestStore(t)
	r := NewRetriever(s, failingEmbedder{})
	if _, err := r.Retrieve(context.Background(), "query", "alice", 5); err == nil {
		t.Fatal("Retrieve() with failing embedder succeeded, want error")
	}
}

func TestRetrieveOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	embedder := newMockEmbedder()
	seedDocument(t, s, "alice", "Pets", []string{"The cat slept."}, embedder)

	r := NewRetriever(s, embedder)
	results, err := r.Retrieve(ctx, "cat sleeping", "bob", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Retrieve() as another owner = %v, want none", resultTexts(results))
	}
}
