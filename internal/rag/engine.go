package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/theomilll/atv-tinoco/internal/llm"
	"github.com/theomilll/atv-tinoco/internal/search"
	"github.com/theomilll/atv-tinoco/internal/store"
)

const systemPrompt = `You are ChatGepeto, a friendly and knowledgeable teacher assistant that helps students with their study questions.

Instructions:
- Help students understand concepts clearly
- Provide explanations that are easy to follow
- Use examples when helpful
- Encourage learning and critical thinking
- Be patient and supportive`

const (
	answerTemperature = 0.7
	answerMaxTokens   = 500
	titleTemperature  = 0.5
	titleMaxTokens    = 20
	maxTitleLen       = 50
	historyWindow     = 10
)

// Retriever is the slice of the search layer the engine needs.
type Retriever interface {
	Retrieve(ctx context.Context, query, ownerID string, topK int) ([]search.Result, error)
}

// Engine answers conversation messages with retrieval-augmented generation:
// retrieve relevant chunks, ground the prompt in them, generate, and record
// which chunks backed the answer.
type Engine struct {
	store     *store.Store
	retriever Retriever
	provider  llm.Provider

	// TopK is how many chunks ground each answer.
	TopK int
}

// NewEngine creates a RAG engine over the given store, retriever, and
// provider.
func NewEngine(st *store.Store, retriever Retriever, provider llm.Provider) *Engine {
	return &Engine{
		store:     st,
		retriever: retriever,
		provider:  provider,
		TopK:      5,
	}
}

// Reply is the outcome of answering one user message.
type Reply struct {
	UserMessage      *store.Message
	AssistantMessage *store.Message
	Citations        []store.Citation
}

// Answer records the user message, generates a grounded response, and
// persists it with citations. The user message is committed before
// generation starts: if the model fails, the user's turn survives and only
// the assistant's side is absent.
func (e *Engine) Answer(ctx context.Context, ownerID, conversationID, content string, attachments []store.Attachment, images []string) (*Reply, error) {
	userMsg, prompt, results, err := e.prepare(ctx, ownerID, conversationID, content, attachments, images)
	if err != nil {
		return nil, err
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    prompt,
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating response: %w", err)
	}

	return e.record(ctx, conversationID, userMsg, resp.Content, results)
}

// AnswerStream is Answer with incremental delivery: onUser fires once the
// user message is committed, onDelta per generated fragment. Providers
// without native streaming deliver the whole response as one delta.
func (e *Engine) AnswerStream(ctx context.Context, ownerID, conversationID, content string, attachments []store.Attachment, images []string, onUser func(*store.Message) error, onDelta llm.StreamFunc) (*Reply, error) {
	userMsg, prompt, results, err := e.prepare(ctx, ownerID, conversationID, content, attachments, images)
	if err != nil {
		return nil, err
	}
	if onUser != nil {
		if err := onUser(userMsg); err != nil {
			return nil, err
		}
	}

	resp, err := llm.StreamOrComplete(ctx, e.provider, llm.CompletionRequest{
		Messages:    prompt,
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	}, onDelta)
	if err != nil {
		return nil, fmt.Errorf("generating response: %w", err)
	}

	return e.record(ctx, conversationID, userMsg, resp.Content, results)
}

// GenerateTitle asks the model for a short conversation title derived from
// the opening message. The result is clamped to 50 characters with any
// wrapping quotes removed.
func (e *Engine) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Generate a short, concise title (max 50 characters) for a conversation that starts with: %q. Return only the title, nothing else.", firstMessage),
		}},
		Temperature: titleTemperature,
		MaxTokens:   titleMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}

	title := strings.TrimSpace(resp.Content)
	title = strings.Trim(title, `"'`)
	return Truncate(title, maxTitleLen), nil
}

// Truncate clamps s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// prepare commits the user message and assembles the grounded prompt.
func (e *Engine) prepare(ctx context.Context, ownerID, conversationID, content string, attachments []store.Attachment, images []string) (*store.Message, []llm.Message, []search.Result, error) {
	conv, err := e.store.GetConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, nil, nil, err
	}

	history, err := e.store.MessagesByConversation(ctx, conversationID, historyWindow)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading history: %w", err)
	}

	userMsg := &store.Message{
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        content,
		Attachments:    attachments,
	}
	if err := e.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, nil, nil, fmt.Errorf("saving user message: %w", err)
	}

	// First message titles an untitled conversation right away; callers may
	// replace it with a generated title later.
	if conv.Title == "" && len(history) == 0 {
		if err := e.store.SetConversationTitle(ctx, conversationID, Truncate(content, maxTitleLen)); err != nil {
			return nil, nil, nil, fmt.Errorf("titling conversation: %w", err)
		}
	}

	results, err := e.retriever.Retrieve(ctx, content, ownerID, e.TopK)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("retrieving context: %w", err)
	}

	prompt := make([]llm.Message, 0, len(history)+2)
	prompt = append(prompt, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemPrompt + "\n\nUse the following retrieved material when it is relevant to the question:\n\n" + BuildContext(results),
	})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	prompt = append(prompt, llm.Message{Role: llm.RoleUser, Content: content, Images: images})

	return userMsg, prompt, results, nil
}

// record persists the assistant message and its citations in one
// transaction and bumps the conversation's activity time.
func (e *Engine) record(ctx context.Context, conversationID string, userMsg *store.Message, content string, results []search.Result) (*Reply, error) {
	assistantMsg := &store.Message{
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
	}
	citations := make([]store.Citation, len(results))
	for i, r := range results {
		citations[i] = store.Citation{
			ChunkID:        r.Chunk.ID,
			RelevanceScore: r.Score,
		}
	}
	if err := e.store.CreateAssistantMessage(ctx, assistantMsg, citations); err != nil {
		return nil, fmt.Errorf("saving assistant message: %w", err)
	}
	if err := e.store.TouchConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	return &Reply{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Citations:        citations,
	}, nil
}
