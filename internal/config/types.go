package config

// ProviderType identifies an LLM or embedding provider backend.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderGroq   ProviderType = "groq"
	ProviderOllama ProviderType = "ollama"
)

// Config is the top-level chatgepeto configuration, corresponding to .chatgepeto.yml.
type Config struct {
	Port    int    `yaml:"port" koanf:"port"`
	DataDir string `yaml:"data_dir" koanf:"data_dir"`
	// UploadDir is where uploaded files and fetched page text are stored.
	UploadDir string `yaml:"upload_dir" koanf:"upload_dir"`

	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string       `yaml:"embedding_model" koanf:"embedding_model"`

	Chunking  ChunkingConfig  `yaml:"chunking" koanf:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval" koanf:"retrieval"`
	Fetch     FetchConfig     `yaml:"fetch" koanf:"fetch"`

	// MaxUploadBytes caps document uploads. Defaults to 10 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" koanf:"max_upload_bytes"`
	// AllowAllOrigins relaxes CORS for local development.
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// ChunkingConfig holds the sliding-window chunker parameters, in tokens.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size" koanf:"chunk_size"`
	Overlap   int `yaml:"overlap" koanf:"overlap"`
}

// RetrievalConfig controls hybrid search behaviour.
type RetrievalConfig struct {
	TopK int `yaml:"top_k" koanf:"top_k"`
	// CandidateK is how many results each signal contributes before fusion.
	CandidateK int  `yaml:"candidate_k" koanf:"candidate_k"`
	Hybrid     bool `yaml:"hybrid" koanf:"hybrid"`
}

// FetchConfig controls URL ingestion.
type FetchConfig struct {
	TimeoutSeconds int   `yaml:"timeout_seconds" koanf:"timeout_seconds"`
	MaxBytes       int64 `yaml:"max_bytes" koanf:"max_bytes"`
}
