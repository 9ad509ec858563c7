package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGatewayServer serves a gateway whose tool behavior is keyed by name:
// "ok" succeeds, "fail" returns a tool-level error, "boom" returns HTTP 500.
func newGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"ok","description":"always succeeds"}]`))
	})
	mux.HandleFunc("/tools/invoke", func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Tool {
		case "ok":
			_, _ = w.Write([]byte(`{"success":true,"result":{"value":42}}`))
		case "fail":
			_, _ = w.Write([]byte(`{"success":false,"error":"tool exploded"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, url string, failureThreshold int) *GatewayClient {
	t.Helper()
	client, err := NewGatewayClient(ClientConfig{
		GatewayURL:       url,
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  time.Hour,
	})
	require.NoError(t, err)
	return client
}

func TestNewGatewayClient_RequiresURL(t *testing.T) {
	_, err := NewGatewayClient(ClientConfig{})
	assert.Error(t, err)
}

func TestInvokeTool(t *testing.T) {
	server := newGatewayServer(t)

	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, server.URL, 5)
		result, err := client.InvokeTool(context.Background(), "ok", map[string]any{"q": "x"}, 0)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.JSONEq(t, `{"value":42}`, string(result.Result))
		assert.Equal(t, BreakerClosed, client.Breaker().State)
	})

	t.Run("tool-level failure counted by breaker", func(t *testing.T) {
		client := newTestClient(t, server.URL, 5)
		result, err := client.InvokeTool(context.Background(), "fail", nil, 0)
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Equal(t, "tool exploded", result.Error)
		assert.Equal(t, 1, client.Breaker().FailureCount)
	})

	t.Run("http error counted by breaker", func(t *testing.T) {
		client := newTestClient(t, server.URL, 5)
		result, err := client.InvokeTool(context.Background(), "boom", nil, 0)
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "status 500")
		assert.Equal(t, 1, client.Breaker().FailureCount)
	})

	t.Run("open breaker rejects with error", func(t *testing.T) {
		client := newTestClient(t, server.URL, 2)
		for i := 0; i < 2; i++ {
			_, err := client.InvokeTool(context.Background(), "fail", nil, 0)
			require.NoError(t, err)
		}
		require.Equal(t, BreakerOpen, client.Breaker().State)

		_, err := client.InvokeTool(context.Background(), "ok", nil, 0)
		var open *CircuitOpenError
		assert.ErrorAs(t, err, &open)
	})
}

func TestInvokeToolsParallel(t *testing.T) {
	server := newGatewayServer(t)
	client := newTestClient(t, server.URL, 100)

	results, err := client.InvokeToolsParallel(context.Background(), []ToolCall{
		{Name: "ok"},
		{Name: "fail"},
		{Name: "ok"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Input order is preserved
	assert.Equal(t, "ok", results[0].Tool)
	assert.True(t, results[0].Success)
	assert.Equal(t, "fail", results[1].Tool)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
}

func TestListTools(t *testing.T) {
	server := newGatewayServer(t)
	client := newTestClient(t, server.URL, 5)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ok", tools[0].Name)
}

func TestHealthCheck(t *testing.T) {
	server := newGatewayServer(t)
	client := newTestClient(t, server.URL, 5)

	assert.True(t, client.HealthCheck(context.Background()))

	server.Close()
	assert.False(t, client.HealthCheck(context.Background()))
	// Health probes never touch the breaker
	assert.Zero(t, client.Breaker().FailureCount)
}

func TestEnricher_Enrich(t *testing.T) {
	server := newGatewayServer(t)
	client := newTestClient(t, server.URL, 100)
	enricher := NewEnricher(client)

	t.Run("artifacts match input order with per-tool errors", func(t *testing.T) {
		artifacts := enricher.Enrich(context.Background(), EnrichmentRequest{
			Calls: []ToolCall{{Name: "ok"}, {Name: "fail"}},
		})
		require.Len(t, artifacts, 2)

		assert.Equal(t, "ok", artifacts[0].AgentName)
		assert.JSONEq(t, `{"value":42}`, artifacts[0].Content)
		assert.Empty(t, artifacts[0].Error)

		assert.Equal(t, "fail", artifacts[1].AgentName)
		assert.Equal(t, "tool exploded", artifacts[1].Error)
	})

	t.Run("no calls yields no artifacts", func(t *testing.T) {
		assert.Nil(t, enricher.Enrich(context.Background(), EnrichmentRequest{}))
	})
}
