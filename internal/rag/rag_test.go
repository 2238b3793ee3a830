package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/theomilll/atv-tinoco/internal/llm"
	"github.com/theomilll/atv-tinoco/internal/search"
	"github.com/theomilll/atv-tinoco/internal/store"
)

type stubRetriever struct {
	results []search.Result
	err     error
	queries []string
}

func (s *stubRetriever) Retrieve(_ context.Context, query, _ string, _ int) ([]search.Result, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

type stubProvider struct {
	response string
	err      error
	requests []llm.CompletionRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.response, FinishReason: "stop"}, nil
}

type streamingProvider struct {
	stubProvider
	deltas []string
}

func (s *streamingProvider) StreamComplete(ctx context.Context, req llm.CompletionRequest, fn llm.StreamFunc) (*llm.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	var content strings.Builder
	for _, d := range s.deltas {
		content.WriteString(d)
		if err := fn(d); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: content.String(), FinishReason: "stop"}, nil
}

type ragFixture struct {
	store     *store.Store
	retriever *stubRetriever
	provider  *stubProvider
	engine    *Engine
	conv      *store.Conversation
}

func newRAGFixture(t *testing.T) *ragFixture {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	conv := &store.Conversation{OwnerID: "alice"}
	if err := s.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	retriever := &stubRetriever{}
	provider := &stubProvider{response: "grounded answer"}
	return &ragFixture{
		store:     s,
		retriever: retriever,
		provider:  provider,
		engine:    NewEngine(s, retriever, provider),
		conv:      conv,
	}
}

// seedChunk stores a completed document with one chunk and returns a
// retrieval result pointing at it.
func (f *ragFixture) seedChunk(t *testing.T, title, text string, score float64) search.Result {
	t.Helper()
	ctx := context.Background()
	d := &store.Document{OwnerID: "alice", Title: title, MediaType: "text/plain", Status: store.StatusCompleted}
	if err := f.store.CreateDocument(ctx, d); err != nil {
		t.Fatalf("CreateDocument() error: %v", err)
	}
	chunks := []store.Chunk{{DocumentID: d.ID, SequenceIndex: 0, Text: text}}
	if err := f.store.CreateChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateChunks() error: %v", err)
	}
	return search.Result{Chunk: chunks[0], DocumentTitle: title, Score: score}
}

func TestBuildContext(t *testing.T) {
	results := []search.Result{
		{Chunk: store.Chunk{Text: "Chunks are windows."}, DocumentTitle: "Chunking"},
		{Chunk: store.Chunk{Text: "BM25 ranks by terms."}, DocumentTitle: "Search"},
	}
	got := BuildContext(results)
	want := "[Document 1: Chunking]\nChunks are windows.\n\n[Document 2: Search]\nBM25 ranks by terms."
	if got != want {
		t.Errorf("BuildContext() = %q, want %q", got, want)
	}
}

func TestBuildContextEmpty(t *testing.T) {
	if got := BuildContext(nil); got != NoContextSentinel {
		t.Errorf("BuildContext(nil) = %q, want sentinel", got)
	}
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()
	f := newRAGFixture(t)
	result := f.seedChunk(t, "Chunking", "Chunks are overlapping windows.", 0.03)
	f.retriever.results = []search.Result{result}

	reply, err := f.engine.Answer(ctx, "alice", f.conv.ID, "How does chunking work?", nil, nil)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	if reply.UserMessage.Role != store.RoleUser || reply.UserMessage.Content != "How does chunking work?" {
		t.Errorf("user message = %+v", reply.UserMessage)
	}
	if reply.AssistantMessage.Content != "grounded answer" {
		t.Errorf("assistant content = %q", reply.AssistantMessage.Content)
	}
	if len(reply.Citations) != 1 || reply.Citations[0].ChunkID != result.Chunk.ID {
		t.Fatalf("citations = %+v", reply.Citations)
	}
	if reply.Citations[0].RelevanceScore != 0.03 {
		t.Errorf("citation score = %v, want 0.03", reply.Citations[0].RelevanceScore)
	}

	// The prompt is grounded: system message carries the context block.
	req := f.provider.requests[0]
	if req.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("first prompt message role = %q", req.Messages[0].Role)
	}
	if !strings.Contains(req.Messages[0].Content, "[Document 1: Chunking]") {
		t.Errorf("system prompt missing context: %q", req.Messages[0].Content)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || last.Content != "How does chunking work?" {
		t.Errorf("last prompt message = %+v", last)
	}

	// Both turns and the citation are persisted.
	msgs, err := f.store.MessagesByConversation(ctx, f.conv.ID, 0)
	if err != nil {
		t.Fatalf("MessagesByConversation() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	citations, err := f.store.CitationsByMessage(ctx, reply.AssistantMessage.ID)
	if err != nil {
		t.Fatalf("CitationsByMessage() error: %v", err)
	}
	if len(citations) != 1 {
		t.Errorf("stored %d citations, want 1", len(citations))
	}
}

func TestAnswerAutoTitlesConversation(t *testing.T) {
	ctx := context.Background()
	f := newRAGFixture(t)

	long := strings.Repeat("explain this topic ", 5)
	if _, err := f.engine.Answer(ctx, "alice", f.conv.ID, long, nil, nil); err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	conv, err := f.store.GetConversation(ctx, "alice", f.conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if conv.Title == "" {
		t.Fatal("first message did not title the conversation")
	}
	if len([]rune(conv.Title)) > 50 {
		t.Errorf("title %q exceeds 50 characters", conv.Title)
	}

	// A second message must not retitle.
	if _, err := f.engine.Answer(ctx, "alice", f.conv.ID, "and another thing", nil, nil); err != nil {
		t.Fatalf("second Answer() error: %v", err)
	}
	after, _ := f.store.GetConversation(ctx, "alice", f.conv.ID)
	if after.Title != conv.Title {
		t.Errorf("title changed from %q to %q", conv.Title, after.Title)
	}
}

func TestAnswerGenerationFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	f := newRAGFixture(t)
	f.provider.err = fmt.Errorf("model offline")

	if _, err := f.engine.Answer(ctx, "alice", f.conv.ID, "hello?", nil, nil); err == nil {
		t.Fatal("Answer() succeeded, want generation error")
	}

	msgs, err := f.store.MessagesByConversation(ctx, f.conv.ID, 0)
	if err != nil {
		t.Fatalf("MessagesByConversation() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser {
		t.Errorf("stored messages = %+v, want only the user turn", msgs)
	}
}

func TestAnswerUnknownConversation(t *testing.T) {
	f := newRAGFixture(t)
	if _, err := f.engine.Answer(context.Background(), "alice", "no-such-id", "hello", nil, nil); err == nil {
		t.Fatal("Answer() for unknown conversation succeeded, want error")
	}
	// Other owners cannot post into the conversation either.
	if _, err := f.engine.Answer(context.Background(), "bob", f.conv.ID, "hello", nil, nil); err == nil {
		t.Fatal("Answer() as another owner succeeded, want error")
	}
}

func TestAnswerHistoryWindow(t *testing.T) {
	ctx := context.Background()
	f := newRAGFixture(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		m := &store.Message{
			ConversationID: f.conv.ID,
			Role:           store.RoleUser,
			Content:        fmt.Sprintf("old %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := f.store.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() error: %v", err)
		}
	}

	if _, err := f.engine.Answer(ctx, "alice", f.conv.ID, "current question", nil, nil); err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	// system + 10 history turns + the new user message.
	req := f.provider.requests[0]
	if len(req.Messages) != 12 {
		t.Fatalf("prompt has %d messages, want 12", len(req.Messages))
	}
	if req.Messages[1].Content != "old 5" {
		t.Errorf("oldest history turn = %q, want the 10-message window", req.Messages[1].Content)
	}
}

func TestAnswerStream(t *testing.T) {
	ctx := context.Background()
	f := newRAGFixture(t)
	provider := &streamingProvider{deltas: []string{"Hello", ", ", "world"}}
	f.engine = NewEngine(f.store, f.retriever, provider)

	var events []string
	reply, err := f.engine.AnswerStream(ctx, "alice", f.conv.ID, "greet me", nil, nil,
		func(m *store.Message) error {
			events = append(events, "user:"+m.Content)
			return nil
		},
		func(delta string) error {
			events = append(events, "delta:"+delta)
			return nil
		})
	if err != nil {
		t.Fatalf("AnswerStream() error: %v", err)
	}

	want := []string{"user:greet me", "delta:Hello", "delta:, ", "delta:world"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
	if reply.AssistantMessage.Content != "Hello, world" {
		t.Errorf("persisted content = %q, want assembled stream", reply.AssistantMessage.Content)
	}
}

func TestAnswerStreamFallsBackWithoutStreamer(t *testing.T) {
	ctx := context.Background()
	f := newRAGFixture(t)

	var deltas []string
	reply, err := f.engine.AnswerStream(ctx, "alice", f.conv.ID, "greet me", nil, nil, nil,
		func(delta string) error {
			deltas = append(deltas, delta)
			return nil
		})
	if err != nil {
		t.Fatalf("AnswerStream() error: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "grounded answer" {
		t.Errorf("deltas = %v, want the whole response at once", deltas)
	}
	if reply.AssistantMessage.Content != "grounded answer" {
		t.Errorf("persisted content = %q", reply.AssistantMessage.Content)
	}
}

func TestGenerateTitle(t *testing.T) {
	f := newRAGFixture(t)
	f.provider.response = `"A Study Session on Chunking"`

	title, err := f.engine.GenerateTitle(context.Background(), "how do I chunk documents?")
	if err != nil {
		t.Fatalf("GenerateTitle() error: %v", err)
	}
	if title != "A Study Session on Chunking" {
		t.Errorf("GenerateTitle() = %q, want quotes stripped", title)
	}

	f.provider.response = strings.Repeat("Very Long Title ", 10)
	title, err = f.engine.GenerateTitle(context.Background(), "another question")
	if err != nil {
		t.Fatalf("GenerateTitle() error: %v", err)
	}
	if len([]rune(title)) > 50 {
		t.Errorf("GenerateTitle() length %d, want <= 50", len([]rune(title)))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 50); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("ação é útil para depuração", 4); got != "ação" {
		t.Errorf("Truncate() = %q, want rune-aware cut", got)
	}
}
