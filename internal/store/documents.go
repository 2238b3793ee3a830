package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CreateDocument inserts a new document. A zero Status defaults to pending.
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, title, source_locator, media_type, byte_size, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Title, d.SourceLocator, d.MediaType, d.ByteSize, string(d.Status), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id, scoped to an owner.
func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (*Document, error) {
	row := s.QueryRowContext(ctx,
		`SELECT id, owner_id, title, source_locator, media_type, byte_size, status, created_at, updated_at
		 FROM documents WHERE id = ? AND owner_id = ?`, id, ownerID)
	return scanDocument(row)
}

// GetDocumentByID retrieves a document without owner scoping. The ingestion
// pipeline uses it; request handlers must use GetDocument.
func (s *Store) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	row := s.QueryRowContext(ctx,
		`SELECT id, owner_id, title, source_locator, media_type, byte_size, status, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns an owner's documents, newest first. Either filter
// may be empty; titleSearch matches substrings case-insensitively.
func (s *Store) ListDocuments(ctx context.Context, ownerID string, status DocumentStatus, titleSearch string) ([]Document, error) {
	query := `SELECT id, owner_id, title, source_locator, media_type, byte_size, status, created_at, updated_at
	          FROM documents WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if titleSearch != "" {
		query += ` AND title LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(titleSearch)+"%")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus persists a status transition.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus) error {
	res, err := s.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDocumentSource records where the document's extracted content lives
// and its size. Used by URL ingestion after the page text is saved.
func (s *Store) UpdateDocumentSource(ctx context.Context, id, sourceLocator string, byteSize int64) error {
	_, err := s.ExecContext(ctx,
		`UPDATE documents SET source_locator = ?, byte_size = ?, updated_at = ? WHERE id = ?`,
		sourceLocator, byteSize, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating document source: %w", err)
	}
	return nil
}

// DeleteDocument removes a document by walking its ownership tree top-down
// in one transaction: citations and embeddings of its chunks, the chunks,
// then the document itself.
func (s *Store) DeleteDocument(ctx context.Context, ownerID, id string) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning document delete: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking document: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if err := deleteChunkTree(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var status string
	err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.SourceLocator, &d.MediaType, &d.ByteSize, &status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	d.Status = DocumentStatus(status)
	return &d, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
