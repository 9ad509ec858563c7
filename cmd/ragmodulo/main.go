// RAG Modulo server — answers questions over document collections through a
// staged retrieval pipeline, and serves conversational chat over HTTP and
// WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/manavgup/rag-modulo/pkg/agents"
	"github.com/manavgup/rag-modulo/pkg/api"
	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/conversation"
	"github.com/manavgup/rag-modulo/pkg/cot"
	"github.com/manavgup/rag-modulo/pkg/database"
	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/logstore"
	"github.com/manavgup/rag-modulo/pkg/mcp"
	"github.com/manavgup/rag-modulo/pkg/pipeline"
	"github.com/manavgup/rag-modulo/pkg/queue"
	"github.com/manavgup/rag-modulo/pkg/retriever"
	"github.com/manavgup/rag-modulo/pkg/services"
	"github.com/manavgup/rag-modulo/pkg/tokens"
	"github.com/manavgup/rag-modulo/pkg/validation"
	"github.com/manavgup/rag-modulo/pkg/vectorstore"
	"github.com/manavgup/rag-modulo/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildProviders returns the provider registry, the default generation
// provider, and the embedder backing retrieval.
func buildProviders(cfg *config.Config) (*llm.Registry, llm.Provider, llm.Embedder, error) {
	switch cfg.LLM.Provider {
	case "openai":
		p, err := llm.NewOpenAIProviderFromAPIKey(cfg.LLM.OpenAIAPIKey, cfg.LLM.Model, cfg.Embedding.ModelID)
		if err != nil {
			return nil, nil, nil, err
		}
		return llm.NewRegistry(p), p, p, nil

	case "anthropic":
		p, err := llm.NewAnthropicProviderFromAPIKey(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, nil, err
		}
		// The Messages API does not serve embeddings, so retrieval embeds
		// through OpenAI.
		if cfg.LLM.OpenAIAPIKey == "" {
			return nil, nil, nil, fmt.Errorf("LLM_PROVIDER=anthropic requires OPENAI_API_KEY for embeddings")
		}
		emb, err := llm.NewOpenAIProviderFromAPIKey(cfg.LLM.OpenAIAPIKey, cfg.LLM.Model, cfg.Embedding.ModelID)
		if err != nil {
			return nil, nil, nil, err
		}
		return llm.NewRegistry(p, emb), p, emb, nil

	case "stub":
		p := llm.NewStubProvider(cfg.VectorStore.Dimension)
		return llm.NewRegistry(p), p, p, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting RAG Modulo",
		"version", version.Full(),
		"http_port", cfg.Server.Port,
		"llm_provider", cfg.LLM.Provider,
		"vector_store", cfg.VectorStore.Kind,
		"config_dir", *configDir)

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Build LLM providers
	registry, defaultProvider, embedder, err := buildProviders(cfg)
	if err != nil {
		slog.Error("Failed to initialize LLM providers", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM providers initialized", "providers", registry.Names())

	// 4. Vector store and hybrid retriever
	var store vectorstore.Store
	switch cfg.VectorStore.Kind {
	case "memory":
		store = vectorstore.NewMemoryStore()
	default:
		store = vectorstore.NewPostgresStore(dbClient.DB())
	}
	ret := retriever.New(embedder, store, cfg.Retrieval.VectorWeight)

	// 5. Domain services
	db := dbClient.DB()
	collectionService := services.NewCollectionService(db)
	pipelineService := services.NewPipelineService(db, cfg.LLM.Provider, cfg.LLM.Model)
	sessionService := services.NewConversationService(db,
		cfg.Conversation.DefaultContextWindow, cfg.Conversation.DefaultMaxMessages)
	warningService := services.NewTokenWarningService(db)
	suggestionService := services.NewSuggestionService(db)
	userService := services.NewUserService(db)
	slog.Info("Services initialized")

	// 6. MCP gateway (optional) and agents
	var gateway *mcp.GatewayClient
	if cfg.MCP.GatewayURL != "" {
		gateway, err = mcp.NewGatewayClient(mcp.ClientConfig{
			GatewayURL:       cfg.MCP.GatewayURL,
			RequestTimeout:   cfg.MCP.RequestTimeout,
			HealthTimeout:    cfg.MCP.HealthTimeout,
			FailureThreshold: cfg.MCP.FailureThreshold,
			RecoveryTimeout:  cfg.MCP.RecoveryTimeout,
		})
		if err != nil {
			slog.Error("Failed to initialize MCP gateway client", "error", err)
			os.Exit(1)
		}
		slog.Info("MCP gateway client initialized", "url", cfg.MCP.GatewayURL)
	}

	executor, err := agents.NewExecutor(cfg.Agents, agents.DefaultFactory(gateway))
	if err != nil {
		slog.Error("Failed to build agents", "error", err)
		os.Exit(1)
	}

	// 7. Pipeline orchestrator
	genParams := llm.GenerateParams{
		Model:       cfg.LLM.Model,
		Temperature: 0.7,
		MaxTokens:   1024,
		TopP:        0.95,
	}
	cotEngine := cot.New(defaultProvider, genParams, nil)
	validator := validation.NewValidator(validation.NewAttributionService(embedder))
	logs := logstore.New(cfg.LogStore.MaxSizeBytes)

	orchestrator, err := pipeline.New(pipeline.Deps{
		Pipelines:       pipelineService,
		Collections:     collectionService,
		Retriever:       ret,
		Registry:        registry,
		Validator:       validator,
		CoT:             cotEngine,
		Agents:          executor,
		Logs:            logs,
		ResultsPerQuery: cfg.Retrieval.NumberOfResults,
		RAGTemplate:     cfg.Templates.RAG,
	})
	if err != nil {
		slog.Error("Failed to assemble pipeline", "error", err)
		os.Exit(1)
	}

	// 8. Conversation manager and background queue
	tracker := tokens.NewTracker(warningService)
	manager := conversation.NewManager(sessionService, tokens.EstimateCounter{}, tracker,
		defaultProvider, genParams, conversation.Config{
			ExtractionMethod: conversation.ExtractHybrid,
			Model:            cfg.LLM.Model,
		})

	pool := queue.NewPool(queue.Config{})
	pool.Start()
	suggestions := queue.NewSuggestionGenerator(registry, suggestionService, cfg.Templates.QuestionGeneration)

	// 9. Start HTTP server (non-blocking)
	server := api.NewServer(api.Deps{
		Config:            cfg,
		DB:                dbClient,
		CollectionService: collectionService,
		SessionService:    sessionService,
		WarningService:    warningService,
		SuggestionService: suggestionService,
		UserService:       userService,
		Orchestrator:      orchestrator,
		Manager:           manager,
		Pool:              pool,
		Suggestions:       suggestions,
		Logs:              logs,
		Gateway:           gateway,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(":" + cfg.Server.Port); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("RAG Modulo started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: drain background work, then the HTTP server
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
