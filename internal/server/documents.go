package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/theomilll/atv-tinoco/internal/jobs"
	"github.com/theomilll/atv-tinoco/internal/store"
)

// allowedUploadTypes maps accepted media types to a canonical file
// extension for saved uploads.
var allowedUploadTypes = map[string]string{
	"text/plain":    ".txt",
	"text/html":     ".html",
	"text/markdown": ".md",
}

func (s *Server) registerDocumentRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/", s.handleUploadDocument)
		r.Post("/from-url", s.handleDocumentFromURL)
		r.Get("/{id}", s.handleGetDocument)
		r.Delete("/{id}", s.handleDeleteDocument)
		r.Post("/{id}/reprocess", s.handleReprocessDocument)
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := s.store.ListDocuments(r.Context(), ownerID(r), store.DocumentStatus(q.Get("status")), q.Get("search"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": documentViews(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chunkCount, err := s.store.CountChunks(r.Context(), doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view := documentView(doc)
	view["chunk_count"] = chunkCount
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file too large (max %d bytes)", s.cfg.MaxUploadBytes))
		return
	}

	mediaType := uploadMediaType(header.Header.Get("Content-Type"), header.Filename)
	ext, ok := allowedUploadTypes[mediaType]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", mediaType))
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	doc := &store.Document{
		OwnerID:   ownerID(r),
		Title:     title,
		MediaType: mediaType,
		ByteSize:  header.Size,
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	path, err := s.saveUpload(file, doc.ID, ext)
	if err != nil {
		s.failDocument(r.Context(), doc.ID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.UpdateDocumentSource(r.Context(), doc.ID, path, header.Size); err != nil {
		s.failDocument(r.Context(), doc.ID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	doc.SourceLocator = path

	s.queue.Submit(jobs.ProcessDocument{DocumentID: doc.ID})

	writeJSON(w, http.StatusCreated, documentView(doc))
}

func (s *Server) handleDocumentFromURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}

	doc, err := s.processor.IngestURL(r.Context(), req.URL, ownerID(r), req.Title)
	if err != nil && doc == nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to ingest URL: %v", err))
		return
	}
	// A created-but-failed document is still returned: its status tells the
	// story and it can be reprocessed.
	doc, gerr := s.store.GetDocument(r.Context(), ownerID(r), doc.ID)
	if gerr != nil {
		writeError(w, http.StatusInternalServerError, gerr.Error())
		return
	}
	writeJSON(w, http.StatusCreated, documentView(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	doc, err := s.store.GetDocument(r.Context(), owner, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.DeleteDocument(r.Context(), owner, doc.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Remove the stored file for uploads; URL documents have nothing local.
	if doc.SourceLocator != "" && !strings.Contains(doc.SourceLocator, "://") {
		if err := os.Remove(doc.SourceLocator); err != nil && !os.IsNotExist(err) {
			// The record is gone; a leftover file is a log line, not a failure.
			fmt.Fprintf(os.Stderr, "removing %s: %v\n", doc.SourceLocator, err)
		}
	}

	s.invalidateRetrieval(owner)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	doc, err := s.store.GetDocument(r.Context(), owner, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc.Status != store.StatusCompleted && doc.Status != store.StatusFailed {
		writeError(w, http.StatusConflict, "can only reprocess failed or completed documents")
		return
	}

	if err := s.processor.Reprocess(r.Context(), doc.ID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reprocessing failed: %v", err))
		return
	}

	doc, err = s.store.GetDocument(r.Context(), owner, doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, documentView(doc))
}

// failDocument marks a document failed when its upload could not be
// persisted, so the row never sits in pending with no source and no job.
func (s *Server) failDocument(ctx context.Context, docID string) {
	if err := s.store.UpdateDocumentStatus(ctx, docID, store.StatusFailed); err != nil {
		log.Printf("marking document %s failed: %v", docID, err)
	}
}

// saveUpload writes the uploaded file under the upload dir, named by
// document id so filenames never collide.
func (s *Server) saveUpload(file io.Reader, docID, ext string) (string, error) {
	dir := filepath.Join(s.cfg.UploadDir, "documents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	path := filepath.Join(dir, docID+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return path, nil
}

// uploadMediaType resolves the effective media type of an upload, trusting
// the declared header first and the filename extension second.
func uploadMediaType(declared, filename string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	}
	if declared == "" {
		return "application/octet-stream"
	}
	return declared
}

func documentView(d *store.Document) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"title":          d.Title,
		"source_locator": d.SourceLocator,
		"media_type":     d.MediaType,
		"byte_size":      d.ByteSize,
		"status":         string(d.Status),
		"created_at":     d.CreatedAt,
		"updated_at":     d.UpdatedAt,
	}
}

func documentViews(docs []store.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i := range docs {
		out[i] = documentView(&docs[i])
	}
	return out
}
