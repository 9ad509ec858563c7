package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/logstore"
)

// queryLogsHandler handles GET /api/v1/admin/logs. entity takes the
// "type:id" form; entity_type/entity_id and text remain as long-form
// aliases of entity and q.
func (s *Server) queryLogsHandler(c *echo.Context) error {
	f := logstore.Filter{
		EntityType:    c.QueryParam("entity_type"),
		EntityID:      c.QueryParam("entity_id"),
		RequestID:     c.QueryParam("request_id"),
		PipelineStage: c.QueryParam("stage"),
		Text:          c.QueryParam("q"),
		Limit:         100,
	}
	if v := c.QueryParam("entity"); v != "" {
		if entityType, entityID, ok := strings.Cut(v, ":"); ok {
			f.EntityType, f.EntityID = entityType, entityID
		} else {
			f.EntityID = v
		}
	}
	if f.Text == "" {
		f.Text = c.QueryParam("text")
	}

	if v := c.QueryParam("level"); v != "" {
		level := logstore.ParseLevel(v)
		f.MaxLevel = &level
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer in [1,1000]")
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		f.Offset = n
	}
	switch order := c.QueryParam("order"); order {
	case "", "asc", "desc":
		f.Order = order
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "order must be asc or desc")
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		f.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid until: must be RFC3339")
		}
		f.Until = &t
	}

	entries := s.logs.Query(f)
	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
