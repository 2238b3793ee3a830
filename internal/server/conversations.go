package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/theomilll/atv-tinoco/internal/rag"
	"github.com/theomilll/atv-tinoco/internal/store"
)

func (s *Server) registerConversationRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.handleListConversations)
		r.Post("/", s.handleCreateConversation)
		r.Get("/{id}", s.handleGetConversation)
		r.Put("/{id}", s.handleUpdateConversation)
		r.Delete("/{id}", s.handleDeleteConversation)
		r.Post("/{id}/messages", s.handleSendMessage)
		r.Post("/{id}/messages/stream", s.handleSendMessageStream)
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, len(convs))
	for i := range convs {
		out[i] = conversationView(&convs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv := &store.Conversation{OwnerID: ownerID(r), Title: req.Title}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conversationView(conv))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msgs, err := s.store.MessagesByConversation(r.Context(), conv.ID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]map[string]any, len(msgs))
	for i := range msgs {
		views[i], err = s.messageView(r.Context(), &msgs[i])
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	view := conversationView(conv)
	view["messages"] = views
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.store.GetConversation(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.SetConversationTitle(r.Context(), conv.ID, req.Title); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conv.Title = req.Title
	writeJSON(w, http.StatusOK, conversationView(conv))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteConversation(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "message content required")
		return
	}

	owner := ownerID(r)
	convID := chi.URLParam(r, "id")

	reply, err := s.engine.Answer(r.Context(), owner, convID, req.Content, nil, req.Images)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to process message: %v", err))
		return
	}

	s.maybeGenerateTitle(owner, convID, req.Content)

	writeJSON(w, http.StatusCreated, map[string]any{
		"user_message":      plainMessageView(reply.UserMessage),
		"assistant_message": assistantMessageView(reply.AssistantMessage, reply.Citations),
	})
}

func (s *Server) handleSendMessageStream(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "message content required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	owner := ownerID(r)
	convID := chi.URLParam(r, "id")

	reply, err := s.engine.AnswerStream(r.Context(), owner, convID, req.Content, nil, req.Images,
		func(m *store.Message) error {
			return writeSSE(w, flusher, "user_message", plainMessageView(m))
		},
		func(delta string) error {
			return writeSSE(w, flusher, "chunk", map[string]string{"content": delta})
		})
	if err != nil {
		writeSSE(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}

	s.maybeGenerateTitle(owner, convID, req.Content)

	writeSSE(w, flusher, "citations", citationViews(reply.Citations))
	writeSSE(w, flusher, "assistant_message", assistantMessageView(reply.AssistantMessage, reply.Citations))
	writeSSE(w, flusher, "done", map[string]string{"status": "complete"})
}

// maybeGenerateTitle replaces a first message's truncated fallback title
// with a model-generated one. Runs off the request path; a failure just
// keeps the fallback.
func (s *Server) maybeGenerateTitle(owner, convID, firstMessage string) {
	ctx := context.Background()
	n, err := s.store.CountMessages(ctx, convID)
	if err != nil || n != 2 {
		return
	}
	conv, err := s.store.GetConversation(ctx, owner, convID)
	if err != nil || conv.Title != rag.Truncate(firstMessage, 50) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		title, err := s.engine.GenerateTitle(ctx, firstMessage)
		if err != nil || title == "" {
			log.Printf("server: generating conversation title: %v", err)
			return
		}
		if err := s.store.SetConversationTitle(ctx, convID, title); err != nil {
			log.Printf("server: saving conversation title: %v", err)
		}
	}()
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func conversationView(c *store.Conversation) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"title":      c.Title,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}

func plainMessageView(m *store.Message) map[string]any {
	view := map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"role":            string(m.Role),
		"content":         m.Content,
		"created_at":      m.CreatedAt,
	}
	if len(m.Attachments) > 0 {
		view["attachments"] = m.Attachments
	}
	return view
}

func assistantMessageView(m *store.Message, citations []store.Citation) map[string]any {
	view := plainMessageView(m)
	view["citations"] = citationViews(citations)
	return view
}

func citationViews(citations []store.Citation) []map[string]any {
	out := make([]map[string]any, len(citations))
	for i, c := range citations {
		out[i] = map[string]any{
			"chunk_id":        c.ChunkID,
			"relevance_score": c.RelevanceScore,
		}
	}
	return out
}

// messageView loads citations for assistant messages when rendering full
// conversation history.
func (s *Server) messageView(ctx context.Context, m *store.Message) (map[string]any, error) {
	if m.Role != store.RoleAssistant {
		return plainMessageView(m), nil
	}
	citations, err := s.store.CitationsByMessage(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return assistantMessageView(m, citations), nil
}
