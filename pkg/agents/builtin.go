package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/mcp"
	"github.com/manavgup/rag-modulo/pkg/models"
)

// QueryClassifierAgent is a pre-search agent that tags the request with a
// coarse query category. Downstream stages read it from the context metadata.
type QueryClassifierAgent struct{}

func (a *QueryClassifierAgent) Name() string { return "query_classifier" }

func (a *QueryClassifierAgent) Run(_ context.Context, sc *models.SearchContext) error {
	lower := strings.ToLower(sc.Question)
	category := "factual"
	switch {
	case strings.Contains(lower, "compare") || strings.Contains(lower, "difference"):
		category = "comparative"
	case strings.Contains(lower, "how do") || strings.Contains(lower, "how to"):
		category = "procedural"
	case strings.Contains(lower, "why"):
		category = "causal"
	}
	sc.SetMetadata("query_category", category)
	return nil
}

// ResultFilterAgent is a post-search agent that drops retrieved passages
// below a minimum fused score before generation sees them.
type ResultFilterAgent struct {
	MinScore float64
}

func (a *ResultFilterAgent) Name() string { return "result_filter" }

func (a *ResultFilterAgent) Run(_ context.Context, sc *models.SearchContext) error {
	if a.MinScore <= 0 {
		return nil
	}
	results := sc.FinalResults()
	kept := make([]models.QueryResult, 0, len(results))
	for _, result := range results {
		if result.Score >= a.MinScore {
			kept = append(kept, result)
		}
	}
	// Never filter everything away; an empty context would starve generation.
	if len(kept) == 0 {
		return nil
	}
	if sc.RerankedResults != nil {
		sc.RerankedResults = kept
	} else {
		sc.Results = kept
	}
	sc.SetMetadata("result_filter", map[string]any{"kept": len(kept), "dropped": len(results) - len(kept)})
	return nil
}

// ToolAgent is a response agent that delegates to one MCP gateway tool and
// attaches the result as an artifact.
type ToolAgent struct {
	name    string
	tool    string
	client  *mcp.GatewayClient
	timeout time.Duration
}

// NewToolAgent binds a response agent to a gateway tool.
func NewToolAgent(name, tool string, client *mcp.GatewayClient, timeout time.Duration) *ToolAgent {
	return &ToolAgent{name: name, tool: tool, client: client, timeout: timeout}
}

func (a *ToolAgent) Name() string { return a.name }

func (a *ToolAgent) Run(ctx context.Context, sc *models.SearchContext) error {
	result, err := a.client.InvokeTool(ctx, a.tool, map[string]any{
		"question": sc.Question,
		"answer":   sc.Answer,
	}, a.timeout)

	artifact := models.AgentArtifact{AgentName: a.name, Kind: "tool_result"}
	switch {
	case err != nil:
		artifact.Error = err.Error()
	case !result.Success:
		artifact.Error = result.Error
	default:
		artifact.Content = string(result.Result)
	}
	sc.AppendArtifact(artifact)

	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("tool %s failed: %s", a.tool, result.Error)
	}
	return nil
}

// DefaultFactory resolves agent definitions to the built-in implementations.
// A nil gateway client disables tool-backed response agents.
func DefaultFactory(gateway *mcp.GatewayClient) func(config.AgentDefinition) (Agent, error) {
	return func(def config.AgentDefinition) (Agent, error) {
		switch def.Stage {
		case config.AgentStageResponse:
			if gateway == nil {
				return nil, fmt.Errorf("response agent %q requires an MCP gateway", def.Name)
			}
			return NewToolAgent(def.Name, def.Tool, gateway, 0), nil
		case config.AgentStagePreSearch:
			return &QueryClassifierAgent{}, nil
		case config.AgentStagePostSearch:
			minScore := 0.0
			if raw, ok := def.Config["min_score"]; ok {
				if _, err := fmt.Sscanf(raw, "%f", &minScore); err != nil {
					return nil, fmt.Errorf("invalid min_score %q", raw)
				}
			}
			return &ResultFilterAgent{MinScore: minScore}, nil
		default:
			return nil, fmt.Errorf("unknown stage %q", def.Stage)
		}
	}
}
