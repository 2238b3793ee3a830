package embeddings

import (
	"fmt"
	"os"
	"sync"

	"github.com/theomilll/atv-tinoco/internal/config"
)

// nomic-embed-text output size; used when the config doesn't say otherwise.
const defaultOllamaDimensions = 768

var (
	defaultMu       sync.Mutex
	defaultInit     bool
	defaultEmbedder Embedder
	defaultErr      error
)

// Default returns the process-wide shared embedder, constructing it on first
// use. Concurrent first callers block until the single initialization
// finishes and then all receive the same instance; the model is never loaded
// twice. After initialization the embedder must tolerate concurrent use,
// which every implementation in this package does.
func Default(cfg *config.Config) (Embedder, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if !defaultInit {
		defaultEmbedder, defaultErr = New(cfg)
		defaultInit = true
	}
	return defaultEmbedder, defaultErr
}

// ResetDefault clears the shared embedder. Only tests use this.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultInit = false
	defaultEmbedder = nil
	defaultErr = nil
}

// New constructs an embedder from configuration. The embedding provider
// falls back to the chat provider when unset.
func New(cfg *config.Config) (Embedder, error) {
	provider := cfg.EmbeddingProvider
	if provider == "" {
		provider = cfg.Provider
	}

	switch provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		model := OpenAIModel(cfg.EmbeddingModel)
		if model == "" {
			model = ModelTextEmbedding3Small
		}
		return NewOpenAIEmbedder(apiKey, model), nil

	case config.ProviderOllama, config.ProviderGroq:
		// Groq has no embedding endpoint; a local Ollama model covers it.
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbedder(model, defaultOllamaDimensions, os.Getenv("OLLAMA_HOST")), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}
