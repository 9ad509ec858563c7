package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/services"
)

// createCollectionHandler handles POST /api/v1/collections.
func (s *Server) createCollectionHandler(c *echo.Context) error {
	var req services.CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.UserID = currentUser(c)

	collection, err := s.collectionService.CreateCollection(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, collection)
}

// listCollectionsHandler handles GET /api/v1/collections.
func (s *Server) listCollectionsHandler(c *echo.Context) error {
	collections, err := s.collectionService.ListCollections(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, collections)
}

// getCollectionHandler handles GET /api/v1/collections/:id.
func (s *Server) getCollectionHandler(c *echo.Context) error {
	collectionID := c.Param("id")
	if collectionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection id is required")
	}

	collection, err := s.collectionService.GetCollection(c.Request().Context(), collectionID)
	if err != nil {
		return mapServiceError(err)
	}
	if collection.IsPrivate && collection.UserID != currentUser(c) {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	return c.JSON(http.StatusOK, collection)
}

// deleteCollectionHandler handles DELETE /api/v1/collections/:id.
func (s *Server) deleteCollectionHandler(c *echo.Context) error {
	collectionID := c.Param("id")
	if collectionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection id is required")
	}

	if err := s.collectionService.DeleteCollection(c.Request().Context(), collectionID, currentUser(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listSuggestionsHandler handles GET /api/v1/collections/:id/suggestions.
func (s *Server) listSuggestionsHandler(c *echo.Context) error {
	collectionID := c.Param("id")
	if collectionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection id is required")
	}

	limit := 5
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 20 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer in [1,20]")
		}
		limit = n
	}

	suggestions, err := s.suggestionService.ListSuggestions(c.Request().Context(), collectionID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, suggestions)
}
