package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theomilll/atv-tinoco/internal/chunker"
	"github.com/theomilll/atv-tinoco/internal/config"
	"github.com/theomilll/atv-tinoco/internal/embeddings"
	"github.com/theomilll/atv-tinoco/internal/llm"
	"github.com/theomilll/atv-tinoco/internal/pipeline"
	"github.com/theomilll/atv-tinoco/internal/search"
	"github.com/theomilll/atv-tinoco/internal/store"
)

// stack bundles the wired application components the commands share.
type stack struct {
	cfg       *config.Config
	store     *store.Store
	embedder  embeddings.Embedder
	retriever *search.Retriever
	processor *pipeline.Processor
}

// buildStack loads config and wires storage, embeddings, retrieval, and the
// ingestion pipeline. Callers close the store when done.
func buildStack() (*stack, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "chatgepeto.db"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedder, err := embeddings.Default(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	retriever := search.NewRetriever(st, embedder)
	retriever.CandidateK = cfg.Retrieval.CandidateK
	retriever.Hybrid = cfg.Retrieval.Hybrid

	splitter := chunker.NewSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	fetcher := pipeline.NewFetcher(time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second, cfg.Fetch.MaxBytes)
	processor := pipeline.NewProcessor(st, embedder, splitter, fetcher, retriever)

	return &stack{
		cfg:       cfg,
		store:     st,
		embedder:  embedder,
		retriever: retriever,
		processor: processor,
	}, nil
}

// provider creates the configured LLM provider.
func (s *stack) provider() (llm.Provider, error) {
	return llm.NewProvider(s.cfg)
}

func (s *stack) close() {
	s.store.Close()
}
