package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/manavgup/rag-modulo/pkg/agents"
	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/cot"
	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/logstore"
	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/retriever"
	"github.com/manavgup/rag-modulo/pkg/validation"
)

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Pipelines   PipelineStore
	Collections CollectionStore
	Retriever   *retriever.Retriever
	Registry    *llm.Registry
	Validator   *validation.Validator
	CoT         *cot.Engine
	Agents      *agents.Executor
	Logs        *logstore.Store

	// ResultsPerQuery is k for retrieval.
	ResultsPerQuery int
	// RAGTemplate is the prompt template with {context} and {question}
	// placeholders; empty uses the built-in default.
	RAGTemplate string
}

// Orchestrator runs the fixed stage sequence for each search request.
type Orchestrator struct {
	stages []Stage
	logs   *logstore.Store
	logger *slog.Logger
}

// New assembles the orchestrator with its standard stage order.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Pipelines == nil || deps.Collections == nil || deps.Retriever == nil || deps.Registry == nil {
		return nil, fmt.Errorf("pipeline orchestrator requires pipeline store, collection store, retriever, and provider registry")
	}
	if deps.ResultsPerQuery < 1 {
		deps.ResultsPerQuery = 10
	}

	stages := []Stage{
		&resolutionStage{pipelines: deps.Pipelines, collections: deps.Collections},
		&enhancementStage{cot: deps.CoT},
		&agentStage{name: StagePreSearchAgents, stage: config.AgentStagePreSearch, executor: deps.Agents},
		&retrievalStage{retriever: deps.Retriever, k: deps.ResultsPerQuery},
		&rerankStage{},
		&agentStage{name: StagePostSearchAgents, stage: config.AgentStagePostSearch, executor: deps.Agents},
		&generationStage{
			registry:    deps.Registry,
			cot:         deps.CoT,
			retriever:   deps.Retriever,
			k:           deps.ResultsPerQuery,
			ragTemplate: deps.RAGTemplate,
		},
		&validationStage{registry: deps.Registry, validator: deps.Validator, ragTemplate: deps.RAGTemplate},
		&agentStage{name: StageResponseAgents, stage: config.AgentStageResponse, executor: deps.Agents},
	}
	return &Orchestrator{stages: stages, logs: deps.Logs, logger: slog.Default()}, nil
}

// Run executes the stage sequence. A required-stage failure aborts the run;
// optional-stage failures degrade and are recorded in the stage metadata.
func (o *Orchestrator) Run(ctx context.Context, sc *models.SearchContext) (*models.SearchResponse, error) {
	o.logger.Info("Search started",
		"request_id", sc.RequestID,
		"collection_id", sc.CollectionID,
		"user_id", sc.UserID)

	for _, stage := range o.stages {
		result := o.execute(ctx, stage, sc)
		o.record(sc, result)
		if result.Failed() {
			o.logger.Error("Pipeline stage failed",
				"request_id", sc.RequestID, "stage", result.Stage, "error", result.Err)
			return nil, fmt.Errorf("stage %s failed: %w", result.Stage, result.Err)
		}
		if result.Err != nil {
			o.logger.Warn("Optional pipeline stage degraded",
				"request_id", sc.RequestID, "stage", result.Stage, "error", result.Err)
		}
	}

	return o.buildResponse(sc), nil
}

// execute runs one stage with panic containment.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, sc *models.SearchContext) (result StageResult) {
	elapsed := stageTimer()
	defer func() {
		if r := recover(); r != nil {
			result = StageResult{
				Stage: stage.Name(),
				Err:   fmt.Errorf("stage panicked: %v", r),
			}
		}
		result.DurationMS = elapsed()
	}()
	return stage.Execute(ctx, sc)
}

// record writes the stage outcome into the context metadata and the log ring.
func (o *Orchestrator) record(sc *models.SearchContext, result StageResult) {
	meta := map[string]any{"duration_ms": result.DurationMS}
	for k, v := range result.Metadata {
		meta[k] = v
	}
	if result.Err != nil {
		meta["error"] = result.Err.Error()
	}
	if result.Skipped {
		meta["skipped"] = true
	}
	sc.SetMetadata(result.Stage, meta)

	if o.logs == nil {
		return
	}
	level := logstore.LevelInfo
	message := "stage completed"
	switch {
	case result.Failed():
		level = logstore.LevelError
		message = "stage failed: " + result.Err.Error()
	case result.Err != nil:
		level = logstore.LevelWarning
		message = "stage degraded: " + result.Err.Error()
	case result.Skipped:
		message = "stage skipped"
	}
	o.logs.Append(logstore.Entry{
		Level:           level,
		Timestamp:       time.Now(),
		EntityType:      "collection",
		EntityID:        sc.CollectionID,
		RequestID:       sc.RequestID,
		PipelineStage:   result.Stage,
		Operation:       "search",
		Message:         message,
		ExecutionTimeMS: result.DurationMS,
	})
}

func (o *Orchestrator) buildResponse(sc *models.SearchContext) *models.SearchResponse {
	return &models.SearchResponse{
		Answer:           sc.Answer,
		Documents:        sc.Documents,
		QueryResults:     sc.FinalResults(),
		RewrittenQuery:   sc.RewrittenQuery,
		Evaluation:       sc.Metadata(),
		StructuredAnswer: sc.StructuredAnswer,
		Artifacts:        sc.Artifacts,
	}
}
