package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id, scoped to an owner.
func (s *Store) GetConversation(ctx context.Context, ownerID, id string) (*Conversation, error) {
	var c Conversation
	err := s.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id = ? AND owner_id = ?`,
		id, ownerID).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns an owner's conversations, most recently
// updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]Conversation, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConversationTitle updates the title.
func (s *Store) SetConversationTitle(ctx context.Context, id, title string) error {
	_, err := s.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating conversation title: %w", err)
	}
	return nil
}

// TouchConversation bumps the updated_at timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	_, err := s.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// DeleteConversation removes a conversation by walking its ownership tree
// top-down in one transaction: citations of its messages, the messages,
// then the conversation itself.
func (s *Store) DeleteConversation(ctx context.Context, ownerID, id string) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning conversation delete: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	steps := []struct {
		what  string
		query string
	}{
		{"citations", `DELETE FROM citations WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`},
		{"messages", `DELETE FROM messages WHERE conversation_id = ?`},
		{"conversation", `DELETE FROM conversations WHERE id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, id); err != nil {
			return fmt.Errorf("deleting %s: %w", step.what, err)
		}
	}
	return tx.Commit()
}

// CreateMessage inserts a single message.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if err := prepareMessage(m); err != nil {
		return err
	}
	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return fmt.Errorf("encoding attachments: %w", err)
	}
	_, err = s.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, attachments, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, attachments, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// CreateAssistantMessage persists an assistant answer together with its
// citations in one transaction. If anything fails nothing is committed, so a
// failed generation leaves no partial assistant state behind.
func (s *Store) CreateAssistantMessage(ctx context.Context, m *Message, citations []Citation) error {
	if err := prepareMessage(m); err != nil {
		return err
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning assistant message insert: %w", err)
	}
	defer tx.Rollback()

	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return fmt.Errorf("encoding attachments: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, attachments, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, attachments, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting assistant message: %w", err)
	}

	now := time.Now().UTC()
	for i := range citations {
		c := &citations[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.MessageID = m.ID
		c.CreatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO citations (id, message_id, chunk_id, relevance_score, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.MessageID, c.ChunkID, c.RelevanceScore, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting citation for chunk %s: %w", c.ChunkID, err)
		}
	}

	return tx.Commit()
}

// MessagesByConversation returns a conversation's messages in chronological
// order. limit <= 0 means no limit; otherwise the most recent limit messages
// are returned, still oldest first.
func (s *Store) MessagesByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, attachments, created_at
	          FROM messages WHERE conversation_id = ? ORDER BY created_at, id`
	if limit > 0 {
		query = `SELECT * FROM (
		           SELECT id, conversation_id, role, content, attachments, created_at
		           FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ` + fmt.Sprint(limit) + `
		         ) ORDER BY created_at, id`
	}

	rows, err := s.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role, attachments string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CitationsByMessage returns a message's citations ordered by descending
// relevance.
func (s *Store) CitationsByMessage(ctx context.Context, messageID string) ([]Citation, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, message_id, chunk_id, relevance_score, created_at
		 FROM citations WHERE message_id = ? ORDER BY relevance_score DESC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying citations: %w", err)
	}
	defer rows.Close()

	var out []Citation
	for rows.Next() {
		var c Citation
		if err := rows.Scan(&c.ID, &c.MessageID, &c.ChunkID, &c.RelevanceScore, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning citation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

func prepareMessage(m *Message) error {
	if m.ConversationID == "" {
		return fmt.Errorf("message requires a conversation id")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}
