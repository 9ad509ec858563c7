package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/version"
)

// healthHandler handles GET /health. Unauthenticated: load balancers probe it.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	body := map[string]any{
		"status":             "healthy",
		"version":            version.Full(),
		"active_websockets":  s.hub.ActiveConnections(),
		"background_queue":   s.pool.Depth(),
		"log_buffer_entries": s.logs.Len(),
	}

	dbHealth, err := s.db.Health(ctx)
	body["database"] = dbHealth
	if err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, body)
	}

	if s.gateway != nil {
		snapshot := s.gateway.Breaker()
		body["mcp_breaker"] = snapshot
	}

	return c.JSON(http.StatusOK, body)
}
