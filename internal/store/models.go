package store

import "time"

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an ingested knowledge-base document owned by a user.
type Document struct {
	ID            string
	OwnerID       string
	Title         string
	SourceLocator string // file path under the upload dir, or the source URL
	MediaType     string
	ByteSize      int64
	Status        DocumentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is a contiguous text segment derived from a document.
// Chunks are immutable once created; reprocessing deletes and recreates them.
type Chunk struct {
	ID            string
	DocumentID    string
	SequenceIndex int
	Text          string
	Metadata      ChunkMetadata
	CreatedAt     time.Time
}

// ChunkMetadata records the chunking parameters used, for reproducibility.
type ChunkMetadata struct {
	Method    string `json:"method,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
	Overlap   int    `json:"overlap,omitempty"`
}

// Embedding is the dense vector for a chunk. At most one per chunk.
type Embedding struct {
	ChunkID string
	Vector  []float32
	Model   string
}

// EmbeddedChunk joins a chunk with its embedding and owning document title,
// the shape the semantic index scans over.
type EmbeddedChunk struct {
	Chunk         Chunk
	DocumentTitle string
	Vector        []float32
}

// Conversation is a chat session owned by a user.
type Conversation struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	Attachments    []Attachment
	CreatedAt      time.Time
}

// Attachment describes a file attached to a user message.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Path      string `json:"path"`
	Category  string `json:"category"` // "image" or "document"
}

// Citation links an assistant message to a source chunk with the fused
// relevance score it was retrieved at. Never mutated after creation.
type Citation struct {
	ID             string
	MessageID      string
	ChunkID        string
	RelevanceScore float64
	CreatedAt      time.Time
}
