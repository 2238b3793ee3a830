package store

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestDocument(t *testing.T, s *Store, owner string, status DocumentStatus) *Document {
	t.Helper()
	d := &Document{
		OwnerID:   owner,
		Title:     "Test Document",
		MediaType: "text/plain",
		ByteSize:  42,
		Status:    status,
	}
	if err := s.CreateDocument(context.Background(), d); err != nil {
		t.Fatalf("CreateDocument() error: %v", err)
	}
	return d
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate() error: %v", err)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := createTestDocument(t, s, "alice", "")
	if d.Status != StatusPending {
		t.Errorf("new document status = %q, want pending", d.Status)
	}

	got, err := s.GetDocument(ctx, "alice", d.ID)
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if got.Title != "Test Document" || got.MediaType != "text/plain" {
		t.Errorf("GetDocument() = %+v", got)
	}

	// Owner scoping.
	if _, err := s.GetDocument(ctx, "bob", d.ID); err != ErrNotFound {
		t.Errorf("GetDocument() as other owner error = %v, want ErrNotFound", err)
	}

	if err := s.UpdateDocumentStatus(ctx, d.ID, StatusProcessing); err != nil {
		t.Fatalf("UpdateDocumentStatus() error: %v", err)
	}
	got, _ = s.GetDocument(ctx, "alice", d.ID)
	if got.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}

	if err := s.UpdateDocumentStatus(ctx, "missing", StatusFailed); err != ErrNotFound {
		t.Errorf("UpdateDocumentStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListDocumentsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	done := createTestDocument(t, s, "alice", StatusCompleted)
	createTestDocument(t, s, "alice", StatusFailed)
	createTestDocument(t, s, "bob", StatusCompleted)

	all, err := s.ListDocuments(ctx, "alice", "", "")
	if err != nil {
		t.Fatalf("ListDocuments() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListDocuments() returned %d documents, want 2", len(all))
	}

	completed, err := s.ListDocuments(ctx, "alice", StatusCompleted, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Errorf("status filter returned %+v", completed)
	}

	byTitle, err := s.ListDocuments(ctx, "alice", "", "test doc")
	if err != nil {
		t.Fatal(err)
	}
	if len(byTitle) != 2 {
		t.Errorf("title search returned %d documents, want 2", len(byTitle))
	}
}

func TestChunksOrderedAndUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := createTestDocument(t, s, "alice", StatusProcessing)

	meta := ChunkMetadata{Method: "sliding_window", ChunkSize: 512, Overlap: 50}
	chunks := []Chunk{
		{DocumentID: d.ID, SequenceIndex: 1, Text: "second", Metadata: meta},
		{DocumentID: d.ID, SequenceIndex: 0, Text: "first", Metadata: meta},
	}
	if err := s.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks() error: %v", err)
	}

	got, err := s.ChunksByDocument(ctx, d.ID)
	if err != nil {
		t.Fatalf("ChunksByDocument() error: %v", err)
	}
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Errorf("chunks out of order: %+v", got)
	}
	if got[0].Metadata.Method != "sliding_window" || got[0].Metadata.ChunkSize != 512 {
		t.Errorf("chunk metadata not round-tripped: %+v", got[0].Metadata)
	}

	// Duplicate sequence index within the same document must be rejected,
	// and the whole batch rolled back.
	dup := []Chunk{{DocumentID: d.ID, SequenceIndex: 0, Text: "dup"}}
	if err := s.CreateChunks(ctx, dup); err == nil {
		t.Error("CreateChunks() with duplicate sequence index should fail")
	}
	if n, _ := s.CountChunks(ctx, d.ID); n != 2 {
		t.Errorf("chunk count after failed insert = %d, want 2", n)
	}
}

func TestDeleteDocumentRemovesOwnedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := createTestDocument(t, s, "alice", StatusCompleted)

	chunks := []Chunk{{DocumentID: d.ID, SequenceIndex: 0, Text: "hello world"}}
	if err := s.CreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbedding(ctx, Embedding{ChunkID: chunks[0].ID, Vector: []float32{1, 2, 3}, Model: "mock"}); err != nil {
		t.Fatalf("SaveEmbedding() error: %v", err)
	}

	if err := s.DeleteDocument(ctx, "alice", d.ID); err != nil {
		t.Fatalf("DeleteDocument() error: %v", err)
	}

	var n int
	if err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil || n != 0 {
		t.Errorf("chunks left after delete: %d (err %v)", n, err)
	}
	if err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil || n != 0 {
		t.Errorf("embeddings left after delete: %d (err %v)", n, err)
	}
}

func TestEmbeddedChunksByOwnerScopesToCompleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	done := createTestDocument(t, s, "alice", StatusCompleted)
	pending := createTestDocument(t, s, "alice", StatusProcessing)

	for _, d := range []*Document{done, pending} {
		chunks := []Chunk{{DocumentID: d.ID, SequenceIndex: 0, Text: "text for " + d.ID}}
		if err := s.CreateChunks(ctx, chunks); err != nil {
			t.Fatal(err)
		}
		if err := s.SaveEmbedding(ctx, Embedding{ChunkID: chunks[0].ID, Vector: []float32{0.5, 0.5}, Model: "mock"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.EmbeddedChunksByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("EmbeddedChunksByOwner() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("EmbeddedChunksByOwner() returned %d chunks, want 1 (completed only)", len(got))
	}
	if got[0].Chunk.DocumentID != done.ID {
		t.Errorf("returned chunk from document %s, want %s", got[0].Chunk.DocumentID, done.ID)
	}
	if got[0].DocumentTitle != "Test Document" {
		t.Errorf("DocumentTitle = %q", got[0].DocumentTitle)
	}
	if len(got[0].Vector) != 2 {
		t.Errorf("vector not round-tripped: %v", got[0].Vector)
	}
}

func TestAssistantMessageWithCitationsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := createTestDocument(t, s, "alice", StatusCompleted)
	chunks := []Chunk{{DocumentID: d.ID, SequenceIndex: 0, Text: "cited text"}}
	if err := s.CreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	conv := &Conversation{OwnerID: "alice", Title: "chat"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}

	msg := &Message{ConversationID: conv.ID, Role: RoleAssistant, Content: "the answer"}
	citations := []Citation{{ChunkID: chunks[0].ID, RelevanceScore: 0.031}}
	if err := s.CreateAssistantMessage(ctx, msg, citations); err != nil {
		t.Fatalf("CreateAssistantMessage() error: %v", err)
	}

	got, err := s.CitationsByMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("CitationsByMessage() error: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != chunks[0].ID || got[0].RelevanceScore != 0.031 {
		t.Errorf("citations = %+v", got)
	}

	// A citation pointing at a missing chunk aborts the whole write.
	bad := &Message{ConversationID: conv.ID, Role: RoleAssistant, Content: "broken"}
	if err := s.CreateAssistantMessage(ctx, bad, []Citation{{ChunkID: "missing"}}); err == nil {
		t.Fatal("CreateAssistantMessage() with dangling citation should fail")
	}
	msgs, err := s.MessagesByConversation(ctx, conv.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("conversation has %d messages after failed write, want 1", len(msgs))
	}
}

func TestMessagesByConversationLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv := &Conversation{OwnerID: "alice"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		m := &Message{ConversationID: conv.ID, Role: RoleUser, Content: string(rune('a' + i))}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.MessagesByConversation(ctx, conv.ID, 3)
	if err != nil {
		t.Fatalf("MessagesByConversation() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit 3 returned %d messages", len(got))
	}
	// Most recent three, oldest first.
	if got[0].Content != "c" || got[2].Content != "e" {
		t.Errorf("window = %q..%q, want c..e", got[0].Content, got[2].Content)
	}
}
