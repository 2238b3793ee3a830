package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateChunks inserts a document's chunks in one transaction.
func (s *Store) CreateChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.CreatedAt = now

		meta, err := marshalJSON(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding chunk metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, sequence_index, text, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.SequenceIndex, c.Text, meta, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.SequenceIndex, err)
		}
	}

	return tx.Commit()
}

// ChunksByDocument returns a document's chunks ordered by sequence index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, document_id, sequence_index, text, metadata, created_at
		 FROM chunks WHERE document_id = ? ORDER BY sequence_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// CountChunks returns the number of chunks stored for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// DeleteChunksByDocument removes all chunks for a document, walking the
// ownership tree down first: citations, then embeddings, then the chunks
// themselves, in one transaction.
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk delete: %w", err)
	}
	defer tx.Rollback()

	if err := deleteChunkTree(ctx, tx, documentID); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteChunkTree deletes everything hanging off a document's chunks, then
// the chunks. Runs inside the caller's transaction.
func deleteChunkTree(ctx context.Context, tx *sql.Tx, documentID string) error {
	steps := []struct {
		what  string
		query string
	}{
		{"citations", `DELETE FROM citations WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`},
		{"embeddings", `DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`},
		{"chunks", `DELETE FROM chunks WHERE document_id = ?`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, documentID); err != nil {
			return fmt.Errorf("deleting %s: %w", step.what, err)
		}
	}
	return nil
}

// CompletedChunksByOwner returns every chunk belonging to a completed
// document of the given owner, with document titles. This is the corpus
// the lexical index is built over.
func (s *Store) CompletedChunksByOwner(ctx context.Context, ownerID string) ([]Chunk, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.sequence_index, c.text, c.metadata, c.created_at
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.owner_id = ? AND d.status = 'completed'
		 ORDER BY c.document_id, c.sequence_index`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying completed chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// SaveEmbedding stores the vector for a chunk (one per chunk, replacing any
// previous one).
func (s *Store) SaveEmbedding(ctx context.Context, e Embedding) error {
	vec, err := marshalJSON(e.Vector)
	if err != nil {
		return fmt.Errorf("encoding vector: %w", err)
	}
	_, err = s.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (chunk_id, vector, model, created_at) VALUES (?, ?, ?, ?)`,
		e.ChunkID, vec, e.Model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting embedding: %w", err)
	}
	return nil
}

// SaveEmbeddings stores one vector per chunk in a single transaction, so a
// partially embedded document is never visible as completed work.
func (s *Store) SaveEmbeddings(ctx context.Context, embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning embedding insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, e := range embeddings {
		vec, err := marshalJSON(e.Vector)
		if err != nil {
			return fmt.Errorf("encoding vector: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO embeddings (chunk_id, vector, model, created_at) VALUES (?, ?, ?, ?)`,
			e.ChunkID, vec, e.Model, now)
		if err != nil {
			return fmt.Errorf("inserting embedding for chunk %s: %w", e.ChunkID, err)
		}
	}

	return tx.Commit()
}

// EmbeddedChunksByOwner returns every embedded chunk of the owner's completed
// documents, joined with the owning document's title. This is the corpus the
// semantic index scans.
func (s *Store) EmbeddedChunksByOwner(ctx context.Context, ownerID string) ([]EmbeddedChunk, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.sequence_index, c.text, c.metadata, c.created_at, d.title, e.vector
		 FROM embeddings e
		 JOIN chunks c ON c.id = e.chunk_id
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.owner_id = ? AND d.status = 'completed'
		 ORDER BY c.document_id, c.sequence_index`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying embedded chunks: %w", err)
	}
	defer rows.Close()

	var out []EmbeddedChunk
	for rows.Next() {
		var ec EmbeddedChunk
		var meta, vec string
		err := rows.Scan(&ec.Chunk.ID, &ec.Chunk.DocumentID, &ec.Chunk.SequenceIndex, &ec.Chunk.Text,
			&meta, &ec.Chunk.CreatedAt, &ec.DocumentTitle, &vec)
		if err != nil {
			return nil, fmt.Errorf("scanning embedded chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &ec.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("decoding chunk metadata: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &ec.Vector); err != nil {
			return nil, fmt.Errorf("decoding vector: %w", err)
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

// DocumentTitles maps the given document ids to their titles.
func (s *Store) DocumentTitles(ctx context.Context, ownerID string) (map[string]string, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, title FROM documents WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying document titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[string]string)
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

func collectChunks(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SequenceIndex, &c.Text, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding chunk metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
