package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/theomilll/atv-tinoco/internal/jobs"
	"github.com/theomilll/atv-tinoco/internal/pipeline"
	"github.com/theomilll/atv-tinoco/internal/rag"
	"github.com/theomilll/atv-tinoco/internal/store"
)

// Config holds server configuration.
type Config struct {
	Port           int
	UploadDir      string // directory for uploaded document files
	MaxUploadBytes int64
	AllowAll       bool // allow all CORS origins (dev mode)
}

// Server is the knowledge-base HTTP API: document ingestion and
// retrieval-grounded conversations.
type Server struct {
	cfg         Config
	store       *store.Store
	processor   *pipeline.Processor
	queue       jobs.Queue
	engine      *rag.Engine
	invalidator pipeline.Invalidator
	router      chi.Router
	httpServer  *http.Server
}

// New creates a server with all dependencies wired. invalidator is told
// when an owner's corpus shrinks outside the pipeline; it may be nil.
func New(cfg Config, st *store.Store, processor *pipeline.Processor, queue jobs.Queue, engine *rag.Engine, invalidator pipeline.Invalidator) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		processor:   processor,
		queue:       queue,
		engine:      engine,
		invalidator: invalidator,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) invalidateRetrieval(owner string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(owner)
	}
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Owner-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	r.Use(cors.Handler(corsOpts))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		s.registerDocumentRoutes(r)
		s.registerConversationRoutes(r)
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chatgepeto server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ownerID identifies the caller. There is no session layer; clients state
// who they are via header and everything downstream is scoped to it.
func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
