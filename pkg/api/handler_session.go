package api

import (
	"context"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req models.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	session, err := s.sessionService.CreateSession(c.Request().Context(), currentUser(c), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.sessionService.ListSessions(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	session, err := s.sessionService.GetSession(c.Request().Context(), sessionID, currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// updateSessionStatusRequest is the body of PUT /api/v1/sessions/:id/status.
type updateSessionStatusRequest struct {
	Status models.SessionStatus `json:"status"`
}

// updateSessionStatusHandler handles PUT /api/v1/sessions/:id/status.
func (s *Server) updateSessionStatusHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	var req updateSessionStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.sessionService.UpdateSessionStatus(c.Request().Context(), sessionID, currentUser(c), req.Status); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// addMessageHandler handles POST /api/v1/sessions/:id/messages. A user
// message triggers a full conversational turn; other roles are stored
// directly.
func (s *Server) addMessageHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	var req models.AddMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	userID := currentUser(c)

	if req.Role != models.RoleUser {
		msg, err := s.sessionService.AddMessage(c.Request().Context(), sessionID, userID, req)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusCreated, msg)
	}

	turn, err := s.manager.ProcessMessage(c.Request().Context(), sessionID, userID, req.Content, s.sessionSearch(userID))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, turn)
}

// listMessagesHandler handles GET /api/v1/sessions/:id/messages.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if _, err := s.sessionService.GetSession(c.Request().Context(), sessionID, currentUser(c)); err != nil {
		return mapServiceError(err)
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	messages, err := s.sessionService.ListMessages(c.Request().Context(), sessionID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, messages)
}

// listWarningsHandler handles GET /api/v1/sessions/:id/warnings.
func (s *Server) listWarningsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if _, err := s.sessionService.GetSession(c.Request().Context(), sessionID, currentUser(c)); err != nil {
		return mapServiceError(err)
	}

	warnings, err := s.warningService.ListWarnings(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, warnings)
}

// acknowledgeWarningHandler handles POST /api/v1/warnings/:id/acknowledge.
func (s *Server) acknowledgeWarningHandler(c *echo.Context) error {
	warningID := c.Param("id")
	if warningID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "warning id is required")
	}
	if err := s.warningService.AcknowledgeWarning(c.Request().Context(), warningID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// sessionSearch adapts the pipeline orchestrator to the conversation
// manager's search callback.
func (s *Server) sessionSearch(userID string) func(ctx context.Context, question, collectionID, uid string) (string, []string, models.TokenUsage, error) {
	return func(ctx context.Context, question, collectionID, uid string) (string, []string, models.TokenUsage, error) {
		req := models.SearchRequest{Question: question, CollectionID: collectionID, UserID: userID}
		sc := models.NewSearchContext(newRequestID(), req, models.DefaultSearchConfig())
		response, err := s.orchestrator.Run(ctx, sc)
		if err != nil {
			return "", nil, models.TokenUsage{}, err
		}

		docs := make([]string, 0, len(response.Documents))
		for _, d := range response.Documents {
			docs = append(docs, d.DocumentID)
		}
		s.enqueueSuggestions(sc)
		return response.Answer, docs, sc.Usage, nil
	}
}
