package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/logstore"
)

func newLogsTestServer(t *testing.T, skipAuth bool) (*Server, *logstore.Store) {
	t.Helper()
	logs := logstore.New(0)
	server := NewServer(Deps{
		Config: &config.Config{
			Auth: config.AuthConfig{JWTSecret: testSecret, SkipAuth: skipAuth},
		},
		Logs: logs,
	})
	return server, logs
}

func seedLogEntries(logs *logstore.Store) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	logs.Append(logstore.Entry{
		Level: logstore.LevelInfo, Timestamp: base,
		EntityType: "collection", EntityID: "col-1", RequestID: "req-1",
		PipelineStage: "retrieval", Operation: "search", Message: "stage completed",
	})
	logs.Append(logstore.Entry{
		Level: logstore.LevelError, Timestamp: base.Add(time.Minute),
		EntityType: "collection", EntityID: "col-1", RequestID: "req-2",
		PipelineStage: "generation", Operation: "search", Message: "stage failed: provider timeout",
	})
}

type logsResponse struct {
	Entries []logstore.Entry `json:"entries"`
	Count   int              `json:"count"`
}

func getLogs(t *testing.T, server *Server, target string) (*httptest.ResponseRecorder, logsResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	var body logsResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestQueryLogsHandler(t *testing.T) {
	server, logs := newLogsTestServer(t, true)
	seedLogEntries(logs)

	t.Run("returns all entries newest first", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 2, body.Count)
		assert.Equal(t, "req-2", body.Entries[0].RequestID)
	})

	t.Run("filters by request id", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs?request_id=req-1")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, body.Count)
		assert.Equal(t, "retrieval", body.Entries[0].PipelineStage)
	})

	t.Run("filters by level", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs?level=error")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, body.Count)
		assert.Equal(t, logstore.LevelError, body.Entries[0].Level)
	})

	t.Run("filters by text", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs?text=Provider+Timeout")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, body.Count)
	})

	t.Run("q is the short form of text", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs?q=Provider+Timeout")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, body.Count)
	})

	t.Run("filters by entity in type:id form", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs?entity=collection:col-1")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 2, body.Count)

		rec, body = getLogs(t, server, "/api/v1/admin/logs?entity=collection:col-9")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, body.Count)
	})

	t.Run("ascending order with limit", func(t *testing.T) {
		rec, body := getLogs(t, server, "/api/v1/admin/logs?order=asc&limit=1")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, body.Count)
		assert.Equal(t, "req-1", body.Entries[0].RequestID)
	})

	t.Run("rejects bad parameters", func(t *testing.T) {
		for _, target := range []string{
			"/api/v1/admin/logs?limit=0",
			"/api/v1/admin/logs?limit=5000",
			"/api/v1/admin/logs?offset=-1",
			"/api/v1/admin/logs?order=sideways",
			"/api/v1/admin/logs?since=yesterday",
		} {
			rec, _ := getLogs(t, server, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		}
	})
}

func TestQueryLogsHandler_Authentication(t *testing.T) {
	server, logs := newLogsTestServer(t, false)
	seedLogEntries(logs)

	t.Run("missing token", func(t *testing.T) {
		rec, _ := getLogs(t, server, "/api/v1/admin/logs")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, "user-1", testSecret, time.Hour))
		rec := httptest.NewRecorder()
		server.Echo().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		server.Echo().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
