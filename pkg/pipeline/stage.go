// Package pipeline orchestrates the query-time flow: pipeline resolution,
// query enhancement, agent hooks, hybrid retrieval, reranking, generation,
// structured validation, and response enrichment.
package pipeline

import (
	"context"
	"errors"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// Stage names, in execution order.
const (
	StagePipelineResolution = "pipeline_resolution"
	StageQueryEnhancement   = "query_enhancement"
	StagePreSearchAgents    = "pre_search_agents"
	StageRetrieval          = "retrieval"
	StageReranking          = "reranking"
	StagePostSearchAgents   = "post_search_agents"
	StageGeneration         = "generation"
	StageValidation         = "validation"
	StageResponseAgents     = "response_agents"
)

// ErrNoDefaultPipeline signals that the user has no default pipeline yet.
// Pipeline resolution reacts by creating one.
var ErrNoDefaultPipeline = errors.New("no default pipeline for user")

// StageResult reports one stage execution.
type StageResult struct {
	Stage      string         `json:"stage"`
	Err        error          `json:"-"`
	Optional   bool           `json:"optional,omitempty"`
	Skipped    bool           `json:"skipped,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Failed reports whether the stage failed in a way that aborts the request.
// Optional stages degrade instead of aborting.
func (r StageResult) Failed() bool {
	return r.Err != nil && !r.Optional
}

// Stage is one step of the query pipeline. Execute mutates the search
// context and reports its outcome; it must not panic across the boundary.
type Stage interface {
	Name() string
	Execute(ctx context.Context, sc *models.SearchContext) StageResult
}

// PipelineStore resolves and creates per-user pipelines.
type PipelineStore interface {
	// GetDefaultPipeline returns the user's default pipeline or
	// ErrNoDefaultPipeline.
	GetDefaultPipeline(ctx context.Context, userID string) (*models.Pipeline, error)
	// CreateDefaultPipeline creates and returns a default pipeline bound to
	// the service's preferred provider.
	CreateDefaultPipeline(ctx context.Context, userID string) (*models.Pipeline, error)
}

// CollectionStore resolves collections.
type CollectionStore interface {
	GetCollection(ctx context.Context, collectionID string) (*models.Collection, error)
}
