package mcp

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// EnrichmentRequest asks a set of tools to produce artifacts for an answer.
type EnrichmentRequest struct {
	// Calls are the per-agent tool invocations.
	Calls []ToolCall
	// PerToolTimeout bounds each call; zero uses the client default.
	PerToolTimeout time.Duration
	// Deadline bounds the whole fan-out. Zero means no aggregate deadline
	// beyond the caller's context.
	Deadline time.Duration
}

// Enricher runs response-agent tool fan-out against the gateway. Partial
// results are returned with per-tool errors captured; the caller's answer is
// never replaced, only augmented.
type Enricher struct {
	client *GatewayClient
	logger *slog.Logger
}

// NewEnricher creates an Enricher over the gateway client.
func NewEnricher(client *GatewayClient) *Enricher {
	return &Enricher{client: client, logger: slog.Default()}
}

// Enrich invokes every call in parallel under the aggregate deadline. On
// aggregate timeout, pending invocations are cancelled and whatever finished
// is returned. The artifact slice matches the input order.
func (e *Enricher) Enrich(ctx context.Context, req EnrichmentRequest) []models.AgentArtifact {
	if len(req.Calls) == 0 {
		return nil
	}

	runCtx := ctx
	if req.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	artifacts := make([]models.AgentArtifact, len(req.Calls))

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(parallelInvocationLimit)
	for i, call := range req.Calls {
		g.Go(func() error {
			result, err := e.client.InvokeTool(gctx, call.Name, call.Arguments, req.PerToolTimeout)
			artifact := models.AgentArtifact{AgentName: call.Name, Kind: "tool_result"}
			switch {
			case err != nil:
				artifact.Error = err.Error()
			case !result.Success:
				artifact.Error = result.Error
			default:
				artifact.Content = string(result.Result)
			}
			artifacts[i] = artifact
			return nil
		})
	}
	_ = g.Wait()

	// Mark any slot a cancelled goroutine never filled.
	for i := range artifacts {
		if artifacts[i].AgentName == "" {
			artifacts[i] = models.AgentArtifact{
				AgentName: req.Calls[i].Name,
				Kind:      "tool_result",
				Error:     "enrichment deadline exceeded",
			}
		}
	}

	return artifacts
}
