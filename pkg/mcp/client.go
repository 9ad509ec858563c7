package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default client timeouts and breaker settings.
const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second

	// parallelInvocationLimit bounds the fan-out of InvokeToolsParallel.
	parallelInvocationLimit = 8
)

// ToolResult is the outcome of one tool invocation. Callers branch on
// Success rather than on an error value; transport-level rejections
// (CircuitOpenError) are still returned as errors.
type ToolResult struct {
	Tool       string          `json:"tool"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// ToolDescription describes one remote tool.
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolCall names a tool and its arguments for parallel invocation.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ClientConfig configures a GatewayClient.
type ClientConfig struct {
	GatewayURL       string
	RequestTimeout   time.Duration
	HealthTimeout    time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// GatewayClient invokes remote tools over HTTP through the MCP gateway. The
// circuit breaker is exclusively owned by the client; its lifetime equals
// the client's.
type GatewayClient struct {
	baseURL        string
	http           *http.Client
	breaker        *CircuitBreaker
	requestTimeout time.Duration
	healthTimeout  time.Duration
	logger         *slog.Logger
}

// NewGatewayClient creates a gateway client with its own circuit breaker.
func NewGatewayClient(cfg ClientConfig) (*GatewayClient, error) {
	if cfg.GatewayURL == "" {
		return nil, errors.New("gateway URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &GatewayClient{
		baseURL:        cfg.GatewayURL,
		http:           &http.Client{},
		breaker:        NewCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
		requestTimeout: cfg.RequestTimeout,
		healthTimeout:  cfg.HealthTimeout,
		logger:         slog.Default(),
	}, nil
}

// invokeRequest is the gateway wire format for tool invocation.
type invokeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type invokeResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// InvokeTool calls one remote tool. All invocation failures (timeout, HTTP
// error, transport error) are recorded as breaker failures; a CircuitOpenError
// rejection is not. A zero timeout uses the client default.
func (c *GatewayClient) InvokeTool(ctx context.Context, name string, arguments map[string]any, timeout time.Duration) (ToolResult, error) {
	if err := c.breaker.Allow(); err != nil {
		return ToolResult{Tool: name}, err
	}
	if timeout <= 0 {
		timeout = c.requestTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.postJSON(callCtx, "/tools/invoke", invokeRequest{Tool: name, Arguments: arguments})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("Tool invocation failed", "tool", name, "error", err)
		return ToolResult{Tool: name, Success: false, Error: err.Error(), DurationMS: duration}, nil
	}

	var decoded invokeResponse
	if err := json.Unmarshal(resp, &decoded); err != nil {
		c.breaker.RecordFailure()
		return ToolResult{Tool: name, Success: false, Error: fmt.Sprintf("malformed gateway response: %v", err), DurationMS: duration}, nil
	}
	if !decoded.Success {
		c.breaker.RecordFailure()
		return ToolResult{Tool: name, Success: false, Error: decoded.Error, DurationMS: duration}, nil
	}

	c.breaker.RecordSuccess()
	return ToolResult{Tool: name, Success: true, Result: decoded.Result, DurationMS: duration}, nil
}

// InvokeToolsParallel invokes tools concurrently with a bounded fan-out.
// Results are returned in input order; per-tool failures are captured in
// their ToolResult rather than aborting the batch.
func (c *GatewayClient) InvokeToolsParallel(ctx context.Context, calls []ToolCall) ([]ToolResult, error) {
	results := make([]ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelInvocationLimit)
	for i, call := range calls {
		g.Go(func() error {
			result, err := c.InvokeTool(gctx, call.Name, call.Arguments, 0)
			if err != nil {
				// Breaker rejection: record it in the slot, keep the batch going.
				result = ToolResult{Tool: call.Name, Success: false, Error: err.Error()}
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ListTools fetches the gateway's tool catalogue.
func (c *GatewayClient) ListTools(ctx context.Context) ([]ToolDescription, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body, err := c.getJSON(callCtx, "/tools")
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	var tools []ToolDescription
	if err := json.Unmarshal(body, &tools); err != nil {
		return nil, fmt.Errorf("malformed tool list: %w", err)
	}
	return tools, nil
}

// HealthCheck probes the gateway. Does not touch the breaker: health probes
// must observe an ailing gateway without extending its outage window.
func (c *GatewayClient) HealthCheck(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	_, err := c.getJSON(callCtx, "/health")
	return err == nil
}

// Breaker returns a consistent snapshot of the breaker state for reporting.
func (c *GatewayClient) Breaker() BreakerSnapshot {
	return c.breaker.Snapshot()
}

func (c *GatewayClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *GatewayClient) getJSON(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *GatewayClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return body, nil
}
