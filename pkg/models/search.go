package models

import (
	"fmt"
	"sync"
)

// QueryResult pairs a retrieved chunk with its (fused) score. Higher is
// better after normalization.
type QueryResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// DocumentMetadata describes a source document referenced by retrieval
// results, for display alongside the answer.
type DocumentMetadata struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Source     string `json:"source,omitempty"`
}

// SearchConfig is the closed set of per-request options accepted in
// config_metadata. Unknown keys are rejected at the boundary.
type SearchConfig struct {
	StructuredOutputEnabled bool         `json:"structured_output_enabled"`
	FormatType              AnswerFormat `json:"format_type"`
	IncludeReasoning        bool         `json:"include_reasoning"`
	MaxCitations            int          `json:"max_citations"`
	MinConfidence           float64      `json:"min_confidence"`
	ValidationStrict        bool         `json:"validation_strict"`
	MaxContextPerDoc        int          `json:"max_context_per_doc"`
}

// DefaultSearchConfig returns the request config used when no
// config_metadata is supplied.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		FormatType:       AnswerFormatStandard,
		MaxCitations:     5,
		MinConfidence:    0.0,
		MaxContextPerDoc: 4000,
	}
}

// ParseSearchConfig builds a SearchConfig from a raw config_metadata mapping,
// rejecting unknown keys and out-of-range values.
func ParseSearchConfig(raw map[string]any) (SearchConfig, error) {
	cfg := DefaultSearchConfig()
	for key, value := range raw {
		switch key {
		case "structured_output_enabled":
			b, ok := value.(bool)
			if !ok {
				return cfg, fmt.Errorf("config_metadata.%s: expected bool", key)
			}
			cfg.StructuredOutputEnabled = b
		case "format_type":
			s, ok := value.(string)
			if !ok {
				return cfg, fmt.Errorf("config_metadata.%s: expected string", key)
			}
			switch AnswerFormat(s) {
			case AnswerFormatStandard, AnswerFormatCoTReasoning:
				cfg.FormatType = AnswerFormat(s)
			default:
				return cfg, fmt.Errorf("config_metadata.%s: must be standard or cot_reasoning", key)
			}
		case "include_reasoning":
			b, ok := value.(bool)
			if !ok {
				return cfg, fmt.Errorf("config_metadata.%s: expected bool", key)
			}
			cfg.IncludeReasoning = b
		case "max_citations":
			n, ok := asInt(value)
			if !ok || n < 1 || n > 20 {
				return cfg, fmt.Errorf("config_metadata.%s: must be an integer in [1,20]", key)
			}
			cfg.MaxCitations = n
		case "min_confidence":
			f, ok := asFloat(value)
			if !ok || f < 0 || f > 1 {
				return cfg, fmt.Errorf("config_metadata.%s: must be a number in [0,1]", key)
			}
			cfg.MinConfidence = f
		case "validation_strict":
			b, ok := value.(bool)
			if !ok {
				return cfg, fmt.Errorf("config_metadata.%s: expected bool", key)
			}
			cfg.ValidationStrict = b
		case "max_context_per_doc":
			n, ok := asInt(value)
			if !ok || n < 1 {
				return cfg, fmt.Errorf("config_metadata.%s: must be a positive integer", key)
			}
			cfg.MaxContextPerDoc = n
		default:
			return cfg, fmt.Errorf("config_metadata: unknown key %q", key)
		}
	}
	return cfg, nil
}

// asInt accepts the numeric types JSON decoding may produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Question       string         `json:"question"`
	CollectionID   string         `json:"collection_id"`
	UserID         string         `json:"user_id,omitempty"`
	ConfigMetadata map[string]any `json:"config_metadata,omitempty"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Answer           string             `json:"answer"`
	Documents        []DocumentMetadata `json:"documents"`
	QueryResults     []QueryResult      `json:"query_results"`
	RewrittenQuery   string             `json:"rewritten_query,omitempty"`
	Evaluation       map[string]any     `json:"evaluation,omitempty"`
	StructuredAnswer *StructuredAnswer  `json:"structured_answer,omitempty"`
	Artifacts        []AgentArtifact    `json:"artifacts,omitempty"`
	SuggestedIDs     []string           `json:"suggested_question_ids,omitempty"`
}

// AgentArtifact is a unit of output produced by a response-stage agent
// (e.g. a generated presentation, a summary table).
type AgentArtifact struct {
	AgentName string `json:"agent_name"`
	Kind      string `json:"kind"`
	Content   string `json:"content,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AgentRunStatus captures the outcome of a single agent run.
type AgentRunStatus string

const (
	AgentRunSuccess AgentRunStatus = "success"
	AgentRunFailed  AgentRunStatus = "failed"
	AgentRunTimeout AgentRunStatus = "timeout"
	AgentRunSkipped AgentRunStatus = "skipped"
)

// AgentRunRecord is the per-agent execution record.
type AgentRunRecord struct {
	AgentName       string         `json:"agent_name"`
	Stage           string         `json:"stage"`
	Status          AgentRunStatus `json:"status"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Error           string         `json:"error,omitempty"`
}

// AgentExecutionSummary aggregates agent runs across pipeline points.
type AgentExecutionSummary struct {
	Runs      []AgentRunRecord `json:"runs"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
}

// SearchContext is the mutable record threaded through pipeline stages. Stage
// code runs sequentially on one goroutine per request; the metadata map is
// guarded for the response-agent stage, which appends from parallel
// goroutines.
type SearchContext struct {
	RequestID    string
	Question     string
	UserID       string
	CollectionID string
	Config       SearchConfig

	PipelineID     string
	Pipeline       *Pipeline
	Collection     *Collection
	RewrittenQuery string
	CoTEnabled     bool
	Usage          TokenUsage

	Results         []QueryResult
	RerankedResults []QueryResult

	Answer           string
	StructuredAnswer *StructuredAnswer
	Documents        []DocumentMetadata

	Artifacts    []AgentArtifact
	AgentSummary AgentExecutionSummary

	mu       sync.Mutex
	metadata map[string]any
}

// NewSearchContext builds a SearchContext for one query.
func NewSearchContext(requestID string, req SearchRequest, cfg SearchConfig) *SearchContext {
	return &SearchContext{
		RequestID:    requestID,
		Question:     req.Question,
		UserID:       req.UserID,
		CollectionID: req.CollectionID,
		Config:       cfg,
		metadata:     make(map[string]any),
	}
}

// SetMetadata records a stage-keyed metadata value. Append-only: existing
// keys are never overwritten so earlier stage records survive.
func (c *SearchContext) SetMetadata(stage string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	if _, exists := c.metadata[stage]; exists {
		return
	}
	c.metadata[stage] = value
}

// Metadata returns a copy of the stage metadata mapping.
func (c *SearchContext) Metadata() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// AppendArtifact adds an artifact from a response agent. Safe for concurrent
// use during the parallel response stage.
func (c *SearchContext) AppendArtifact(a AgentArtifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Artifacts = append(c.Artifacts, a)
}

// FinalResults returns the reranked results if reranking ran, otherwise the
// raw retrieval results. Generation consumes chunks in exactly this order.
func (c *SearchContext) FinalResults() []QueryResult {
	if c.RerankedResults != nil {
		return c.RerankedResults
	}
	return c.Results
}
