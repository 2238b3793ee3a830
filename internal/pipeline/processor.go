package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/theomilll/atv-tinoco/internal/chunker"
	"github.com/theomilll/atv-tinoco/internal/embeddings"
	"github.com/theomilll/atv-tinoco/internal/extract"
	"github.com/theomilll/atv-tinoco/internal/store"
)

var (
	// ErrNoExtractableText means a document yielded no usable text. The
	// document ends up failed, not stuck.
	ErrNoExtractableText = errors.New("no extractable text")

	// ErrNotReprocessable means reprocessing was requested while the
	// document was still pending or in flight.
	ErrNotReprocessable = errors.New("document is not in a reprocessable state")
)

// Invalidator is notified when an owner's chunk corpus changes. The
// retriever's lexical cache implements it.
type Invalidator interface {
	Invalidate(ownerID string)
}

// Processor runs documents through the ingestion state machine:
// pending -> processing -> completed or failed. Failures are persisted on
// the document and also returned to the caller.
type Processor struct {
	store       *store.Store
	embedder    embeddings.Embedder
	splitter    *chunker.Splitter
	fetcher     *Fetcher
	invalidator Invalidator
}

// NewProcessor creates a processor. invalidator may be nil.
func NewProcessor(st *store.Store, embedder embeddings.Embedder, splitter *chunker.Splitter, fetcher *Fetcher, invalidator Invalidator) *Processor {
	return &Processor{
		store:       st,
		embedder:    embedder,
		splitter:    splitter,
		fetcher:     fetcher,
		invalidator: invalidator,
	}
}

// Process takes a pending document through extraction, chunking, and
// embedding. On any failure the document is marked failed before the error
// is returned.
func (p *Processor) Process(ctx context.Context, docID string) error {
	doc, err := p.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}
	if doc.Status != store.StatusPending {
		return fmt.Errorf("document %s is %s, not pending", docID, doc.Status)
	}
	if err := p.markProcessing(ctx, doc); err != nil {
		return err
	}

	content, err := p.loadContent(ctx, doc)
	if err != nil {
		return p.fail(ctx, doc, err)
	}
	return p.processContent(ctx, doc, content)
}

// ProcessContent runs the state machine over content already in hand,
// skipping the source read. URL ingestion uses it to avoid fetching twice.
func (p *Processor) ProcessContent(ctx context.Context, docID string, content []byte) error {
	doc, err := p.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}
	if doc.Status != store.StatusPending {
		return fmt.Errorf("document %s is %s, not pending", docID, doc.Status)
	}
	if err := p.markProcessing(ctx, doc); err != nil {
		return err
	}
	return p.processContent(ctx, doc, content)
}

// Reprocess deletes a completed or failed document's chunks and runs it
// through the pipeline again. Pending and in-flight documents are refused.
func (p *Processor) Reprocess(ctx context.Context, docID string) error {
	doc, err := p.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}
	if doc.Status != store.StatusCompleted && doc.Status != store.StatusFailed {
		return fmt.Errorf("document %s is %s: %w", docID, doc.Status, ErrNotReprocessable)
	}

	if err := p.store.DeleteChunksByDocument(ctx, docID); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	if err := p.store.UpdateDocumentStatus(ctx, docID, store.StatusPending); err != nil {
		return fmt.Errorf("resetting document %s: %w", docID, err)
	}
	p.invalidate(doc.OwnerID)

	return p.Process(ctx, docID)
}

// IngestURL fetches a page, creates a document for it, and processes it.
// With an empty title the page's <title> is used, falling back to the URL
// itself. The document is created even when processing fails, so the
// failure is visible and retryable.
func (p *Processor) IngestURL(ctx context.Context, rawURL, ownerID, title string) (*store.Document, error) {
	content, mediaType, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if title == "" {
		if strings.Contains(mediaType, "html") {
			title = extract.HTMLTitle(string(content), rawURL)
		} else {
			title = rawURL
		}
	}

	doc := &store.Document{
		OwnerID:       ownerID,
		Title:         title,
		SourceLocator: rawURL,
		MediaType:     mediaType,
		ByteSize:      int64(len(content)),
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := p.ProcessContent(ctx, doc.ID, content); err != nil {
		return doc, err
	}
	return doc, nil
}

func (p *Processor) markProcessing(ctx context.Context, doc *store.Document) error {
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusProcessing); err != nil {
		return fmt.Errorf("marking document %s processing: %w", doc.ID, err)
	}
	doc.Status = store.StatusProcessing
	return nil
}

// processContent assumes the document was already marked processing.
func (p *Processor) processContent(ctx context.Context, doc *store.Document, content []byte) error {
	text := extract.Text(content, doc.MediaType)
	if strings.TrimSpace(text) == "" {
		return p.fail(ctx, doc, fmt.Errorf("document %s: %w", doc.ID, ErrNoExtractableText))
	}

	parts := p.splitter.Split(text)
	if len(parts) == 0 {
		return p.fail(ctx, doc, fmt.Errorf("document %s produced no chunks", doc.ID))
	}

	chunks := make([]store.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = store.Chunk{
			DocumentID:    doc.ID,
			SequenceIndex: i,
			Text:          part,
			Metadata: store.ChunkMetadata{
				Method:    "sliding_window",
				ChunkSize: p.splitter.ChunkSize(),
				Overlap:   p.splitter.Overlap(),
			},
		}
	}
	if err := p.store.CreateChunks(ctx, chunks); err != nil {
		return p.fail(ctx, doc, fmt.Errorf("storing chunks: %w", err))
	}

	vectors, err := p.embedder.Embed(ctx, parts)
	if err != nil {
		return p.fail(ctx, doc, fmt.Errorf("embedding chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return p.fail(ctx, doc, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	embs := make([]store.Embedding, len(chunks))
	for i := range chunks {
		embs[i] = store.Embedding{
			ChunkID: chunks[i].ID,
			Vector:  vectors[i],
			Model:   p.embedder.Name(),
		}
	}
	if err := p.store.SaveEmbeddings(ctx, embs); err != nil {
		return p.fail(ctx, doc, fmt.Errorf("storing embeddings: %w", err))
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusCompleted); err != nil {
		return fmt.Errorf("marking document %s completed: %w", doc.ID, err)
	}
	p.invalidate(doc.OwnerID)
	return nil
}

func (p *Processor) loadContent(ctx context.Context, doc *store.Document) ([]byte, error) {
	if strings.HasPrefix(doc.SourceLocator, "http://") || strings.HasPrefix(doc.SourceLocator, "https://") {
		content, _, err := p.fetcher.Fetch(ctx, doc.SourceLocator)
		return content, err
	}
	content, err := os.ReadFile(doc.SourceLocator)
	if err != nil {
		return nil, fmt.Errorf("reading source of %s: %w", doc.ID, err)
	}
	return content, nil
}

// fail persists the failed status and returns the original error. A
// failure to persist is logged; the pipeline error matters more.
func (p *Processor) fail(ctx context.Context, doc *store.Document, err error) error {
	if uerr := p.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusFailed); uerr != nil {
		log.Printf("pipeline: marking document %s failed: %v", doc.ID, uerr)
	}
	return err
}

func (p *Processor) invalidate(ownerID string) {
	if p.invalidator != nil {
		p.invalidator.Invalidate(ownerID)
	}
}
