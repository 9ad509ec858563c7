// Package config loads service configuration from the environment and from
// optional YAML files in the configuration directory.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens. Required unless SkipAuth.
	JWTSecret string
	// SkipAuth disables authentication entirely (local development only).
	SkipAuth bool
}

// VectorStoreConfig selects and addresses the vector store backend.
type VectorStoreConfig struct {
	// Kind is "postgres" or "memory".
	Kind string
	// Dimension is the embedding dimension every collection index uses.
	Dimension int
}

// EmbeddingConfig selects the embedding provider and model.
type EmbeddingConfig struct {
	ModelID string
}

// LLMConfig selects the default generation provider.
type LLMConfig struct {
	// Provider is "openai", "anthropic", or "stub".
	Provider        string
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	// GenerationTimeout bounds a single LLM call.
	GenerationTimeout time.Duration
}

// MCPConfig configures the remote tool gateway client.
type MCPConfig struct {
	GatewayURL       string
	RequestTimeout   time.Duration
	HealthTimeout    time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// EnrichmentTimeout is the whole-enrichment deadline across the
	// response-agent fan-out.
	EnrichmentTimeout time.Duration
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	// VectorWeight is w in the fusion formula
	// combined = w·vector + (1−w)·keyword.
	VectorWeight    float64
	NumberOfResults int
}

// LogStoreConfig configures the in-memory log ring.
type LogStoreConfig struct {
	MaxSizeBytes int
}

// ConversationConfig holds chat defaults.
type ConversationConfig struct {
	DefaultContextWindow int
	DefaultMaxMessages   int
}

// Config is the umbrella configuration object returned by Load and used
// throughout the application.
type Config struct {
	Server       ServerConfig
	Auth         AuthConfig
	VectorStore  VectorStoreConfig
	Embedding    EmbeddingConfig
	LLM          LLMConfig
	MCP          MCPConfig
	Retrieval    RetrievalConfig
	LogStore     LogStoreConfig
	Conversation ConversationConfig

	// Agents holds agent definitions loaded from agents.yaml, if present.
	Agents []AgentDefinition
	// Templates holds prompt templates loaded from templates.yaml, if present.
	Templates TemplatesConfig
}

// Load reads configuration from the environment, then overlays YAML files
// found in configDir (agents.yaml, templates.yaml). Missing YAML files are
// not an error.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("HTTP_PORT", "8080"),
			ShutdownTimeout: getDuration("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			SkipAuth:  getBool("SKIP_AUTH", false),
		},
		VectorStore: VectorStoreConfig{
			Kind:      getEnv("VECTOR_STORE", "postgres"),
			Dimension: getInt("EMBEDDING_DIMENSION", 384),
		},
		Embedding: EmbeddingConfig{
			ModelID: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		LLM: LLMConfig{
			Provider:          getEnv("LLM_PROVIDER", "openai"),
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
			AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
			GenerationTimeout: getDuration("LLM_TIMEOUT", 60*time.Second),
		},
		MCP: MCPConfig{
			GatewayURL:        os.Getenv("MCP_GATEWAY_URL"),
			RequestTimeout:    getDuration("MCP_REQUEST_TIMEOUT", 30*time.Second),
			HealthTimeout:     getDuration("MCP_HEALTH_TIMEOUT", 5*time.Second),
			FailureThreshold:  getInt("MCP_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:   getDuration("MCP_RECOVERY_TIMEOUT", 60*time.Second),
			EnrichmentTimeout: getDuration("MCP_ENRICHMENT_TIMEOUT", 90*time.Second),
		},
		Retrieval: RetrievalConfig{
			VectorWeight:    getFloat("RETRIEVAL_VECTOR_WEIGHT", 0.7),
			NumberOfResults: getInt("RETRIEVAL_NUMBER_OF_RESULTS", 10),
		},
		LogStore: LogStoreConfig{
			MaxSizeBytes: getInt("LOG_BUFFER_SIZE_BYTES", 5*1024*1024),
		},
		Conversation: ConversationConfig{
			DefaultContextWindow: getInt("DEFAULT_CONTEXT_WINDOW", 4000),
			DefaultMaxMessages:   getInt("DEFAULT_MAX_MESSAGES", 50),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if configDir != "" {
		if err := cfg.loadYAMLFiles(configDir); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" && !c.Auth.SkipAuth {
		return fmt.Errorf("JWT_SECRET is required unless SKIP_AUTH=true")
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.VectorWeight > 1 {
		return fmt.Errorf("RETRIEVAL_VECTOR_WEIGHT must be in [0,1], got %v", c.Retrieval.VectorWeight)
	}
	if c.Retrieval.NumberOfResults < 1 {
		return fmt.Errorf("RETRIEVAL_NUMBER_OF_RESULTS must be >= 1")
	}
	if c.VectorStore.Dimension < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be >= 1")
	}
	switch c.VectorStore.Kind {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown VECTOR_STORE %q: must be postgres or memory", c.VectorStore.Kind)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "stub":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q: must be openai, anthropic, or stub", c.LLM.Provider)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("Invalid float in environment, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return f
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("Invalid boolean in environment, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return b
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default",
			"key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}
