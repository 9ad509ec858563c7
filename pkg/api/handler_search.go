package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/queue"
)

// searchHandler handles POST /api/v1/search.
func (s *Server) searchHandler(c *echo.Context) error {
	var req models.SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	if req.CollectionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection_id is required")
	}
	req.UserID = currentUser(c)

	cfg, err := models.ParseSearchConfig(req.ConfigMetadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sc := models.NewSearchContext(uuid.New().String(), req, cfg)
	response, err := s.orchestrator.Run(c.Request().Context(), sc)
	if err != nil {
		return mapServiceError(err)
	}

	s.enqueueSuggestions(sc)

	return c.JSON(http.StatusOK, response)
}

// enqueueSuggestions submits follow-up question generation as best-effort
// background work.
func (s *Server) enqueueSuggestions(sc *models.SearchContext) {
	if s.pool == nil || s.suggestions == nil || sc.Pipeline == nil || sc.Answer == "" {
		return
	}
	task := s.suggestions.Task(sc.CollectionID, sc.Question, sc.Answer, sc.Pipeline)
	if err := s.pool.Submit(task); err != nil && err != queue.ErrShuttingDown {
		// A full queue just means no fresh suggestions this round.
		return
	}
}
