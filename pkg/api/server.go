// Package api exposes the HTTP and WebSocket surface: search, sessions and
// messages, collections, token warnings, health, and the admin log query
// endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/conversation"
	"github.com/manavgup/rag-modulo/pkg/database"
	"github.com/manavgup/rag-modulo/pkg/logstore"
	"github.com/manavgup/rag-modulo/pkg/mcp"
	"github.com/manavgup/rag-modulo/pkg/pipeline"
	"github.com/manavgup/rag-modulo/pkg/queue"
	"github.com/manavgup/rag-modulo/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	echo *echo.Echo
	srv  *http.Server
	cfg  *config.Config

	db *database.Client

	collectionService *services.CollectionService
	sessionService    *services.ConversationService
	warningService    *services.TokenWarningService
	suggestionService *services.SuggestionService
	userService       *services.UserService

	orchestrator *pipeline.Orchestrator
	manager      *conversation.Manager
	pool         *queue.Pool
	suggestions  *queue.SuggestionGenerator
	logs         *logstore.Store
	gateway      *mcp.GatewayClient
	hub          *Hub
}

// Deps wires the server's collaborators.
type Deps struct {
	Config            *config.Config
	DB                *database.Client
	CollectionService *services.CollectionService
	SessionService    *services.ConversationService
	WarningService    *services.TokenWarningService
	SuggestionService *services.SuggestionService
	UserService       *services.UserService
	Orchestrator      *pipeline.Orchestrator
	Manager           *conversation.Manager
	Pool              *queue.Pool
	Suggestions       *queue.SuggestionGenerator
	Logs              *logstore.Store
	Gateway           *mcp.GatewayClient
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		echo:              echo.New(),
		cfg:               deps.Config,
		db:                deps.DB,
		collectionService: deps.CollectionService,
		sessionService:    deps.SessionService,
		warningService:    deps.WarningService,
		suggestionService: deps.SuggestionService,
		userService:       deps.UserService,
		orchestrator:      deps.Orchestrator,
		manager:           deps.Manager,
		pool:              deps.Pool,
		suggestions:       deps.Suggestions,
		logs:              deps.Logs,
		gateway:           deps.Gateway,
	}
	s.hub = NewHub(s)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	auth := authMiddleware(s.cfg.Auth.JWTSecret, s.cfg.Auth.SkipAuth)
	v1 := e.Group("/api/v1", auth)

	v1.POST("/search", s.searchHandler)

	v1.POST("/collections", s.createCollectionHandler)
	v1.GET("/collections", s.listCollectionsHandler)
	v1.GET("/collections/:id", s.getCollectionHandler)
	v1.DELETE("/collections/:id", s.deleteCollectionHandler)
	v1.GET("/collections/:id/suggestions", s.listSuggestionsHandler)

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.PUT("/sessions/:id/status", s.updateSessionStatusHandler)
	v1.POST("/sessions/:id/messages", s.addMessageHandler)
	v1.GET("/sessions/:id/messages", s.listMessagesHandler)
	v1.GET("/sessions/:id/warnings", s.listWarningsHandler)
	v1.POST("/warnings/:id/acknowledge", s.acknowledgeWarningHandler)

	v1.GET("/admin/logs", s.queryLogsHandler)

	// Authentication for /ws happens after the upgrade so failures can be
	// signalled with a WebSocket close code instead of a plain 401.
	e.GET("/ws", s.wsHandler)
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	slog.Info("HTTP server listening", "addr", addr)
	s.srv = &http.Server{Addr: addr, Handler: s.echo}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func newRequestID() string {
	return uuid.New().String()
}
