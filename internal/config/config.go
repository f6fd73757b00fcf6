// ragserver/internal/config/config.go

package config

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v2"
)

// VectorBackend selects which VectorStore implementation the server builds.
type VectorBackend string

const (
	VectorBackendManaged VectorBackend = "managed"
	VectorBackendNative  VectorBackend = "native"
)

// FeatureFlags controls the optional pipeline stages exposed to operators.
type FeatureFlags struct {
	UseContextualEmbeddings bool `yaml:"use_contextual_embeddings"`
	UseReranking            bool `yaml:"use_reranking"`
	UseHybridSearch         bool `yaml:"use_hybrid_search"`
	UseAgenticRAG           bool `yaml:"use_agentic_rag"`
	UseKnowledgeGraph       bool `yaml:"use_knowledge_graph"`
}

// EmbeddingConfig describes the external embedding provider.
type EmbeddingConfig struct {
	Host       string `yaml:"host"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// CompletionsConfig describes the summarization/context LLM used by C4/C5.
// Provider selects the SDK used to reach Host: "openai" (default, also used
// for any OpenAI-compatible self-hosted endpoint) or "anthropic".
type CompletionsConfig struct {
	Provider    string  `yaml:"provider"`
	Host        string  `yaml:"host"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// RerankerConfig describes the cross-encoder reranker endpoint.
type RerankerConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// VectorDatabaseConfig selects and configures the C7 backend.
type VectorDatabaseConfig struct {
	Backend          VectorBackend `yaml:"backend"`
	NativeDSN        string        `yaml:"native_dsn"`
	ManagedDSN       string        `yaml:"managed_dsn"`
	DocumentsColl    string        `yaml:"documents_collection"`
	CodeExamplesColl string        `yaml:"code_examples_collection"`
	SourcesColl      string        `yaml:"sources_collection"`
}

// GraphDatabaseConfig configures the C8 property-graph backend.
type GraphDatabaseConfig struct {
	DSN                string `yaml:"dsn"`
	CommitHistoryLimit int    `yaml:"commit_history_limit"`
	WorkspaceDir       string `yaml:"workspace_dir"`
}

// SearchToolConfig holds settings for an external meta-search front-end. The
// search tool does not read them: cmd/ragserver wires ingest.DuckDuckGoSearch,
// which takes no endpoint or API key.
type SearchToolConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// CacheConfig controls the C12 result cache.
type CacheConfig struct {
	TTLSeconds int    `yaml:"ttl_seconds"`
	Capacity   int    `yaml:"capacity"`
	RedisDSN   string `yaml:"redis_dsn,omitempty"`
}

// CircuitBreakerConfig controls the C12 breaker defaults shared across dependencies.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CoolOffSeconds   int `yaml:"cool_off_seconds"`
}

// TelemetryConfig controls OpenTelemetry metrics emission.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Config is the process-wide configuration loaded once at startup.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"` // "stdio" | "http"

	Flags FeatureFlags `yaml:"flags"`

	ChunkSize           int `yaml:"chunk_size"`
	MaxConcurrentFetch  int `yaml:"max_concurrent_fetches"`
	EmbeddingBatchSize  int `yaml:"embedding_batch_size"`
	CodeBlockMinChars   int `yaml:"code_block_min_chars"`
	EnrichmentWorkers   int `yaml:"enrichment_workers"`
	DefaultOuterTimeout int `yaml:"default_outer_timeout_seconds"`

	Embedding   EmbeddingConfig      `yaml:"embedding"`
	Completions CompletionsConfig    `yaml:"completions"`
	Reranker    RerankerConfig       `yaml:"reranker"`
	Vector      VectorDatabaseConfig `yaml:"vector"`
	Graph       GraphDatabaseConfig  `yaml:"graph"`
	Search      SearchToolConfig     `yaml:"search"`
	Cache       CacheConfig          `yaml:"cache"`
	Breaker     CircuitBreakerConfig `yaml:"breaker"`
	OTel        TelemetryConfig      `yaml:"otel"`
}

// LoadConfig reads the configuration from a YAML file, unmarshals it into a
// Config struct, and fills in the documented defaults for anything left unset.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("Error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("Error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	pterm.Success.Println("Configuration loaded successfully.")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Transport == "" {
		cfg.Transport = "stdio"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = VectorBackendManaged
		pterm.Info.Println("No vector backend specified, defaulting to managed.")
	}
	if cfg.Vector.DocumentsColl == "" {
		cfg.Vector.DocumentsColl = "crawled_pages"
	}
	if cfg.Vector.CodeExamplesColl == "" {
		cfg.Vector.CodeExamplesColl = "code_examples"
	}
	if cfg.Vector.SourcesColl == "" {
		cfg.Vector.SourcesColl = "sources"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 5000
		pterm.Info.Println("No chunk_size specified, using default (5000).")
	}
	if cfg.MaxConcurrentFetch <= 0 {
		cfg.MaxConcurrentFetch = 10
		pterm.Info.Println("No max_concurrent_fetches specified, using default (10).")
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 20
		pterm.Info.Println("No embedding_batch_size specified, using default (20).")
	}
	if cfg.CodeBlockMinChars <= 0 {
		cfg.CodeBlockMinChars = 250
	}
	if cfg.EnrichmentWorkers <= 0 {
		cfg.EnrichmentWorkers = 4
	}
	if cfg.DefaultOuterTimeout <= 0 {
		cfg.DefaultOuterTimeout = 60
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Graph.CommitHistoryLimit <= 0 {
		cfg.Graph.CommitHistoryLimit = 50
	}
	if cfg.Graph.WorkspaceDir == "" {
		cfg.Graph.WorkspaceDir = "./.ragserver/repos"
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 30 * 60
	}
	if cfg.Cache.Capacity <= 0 {
		cfg.Cache.Capacity = 1000
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.CoolOffSeconds <= 0 {
		cfg.Breaker.CoolOffSeconds = 60
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "ragserver"
	}
	if cfg.Embedding.APIKey == "" {
		if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
			cfg.Embedding.APIKey = v
		}
	}
	if cfg.Completions.APIKey == "" {
		if v := os.Getenv("COMPLETIONS_API_KEY"); v != "" {
			cfg.Completions.APIKey = v
		}
	}
	if cfg.Completions.Provider == "" {
		cfg.Completions.Provider = "openai"
	}
}
