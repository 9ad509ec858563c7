package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manavgup/rag-modulo/pkg/agents"
	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/cot"
	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/retriever"
	"github.com/manavgup/rag-modulo/pkg/validation"
)

// maxChunksPerDocument bounds how many chunks one document contributes after
// reranking, so a single verbose document cannot crowd out the rest.
const maxChunksPerDocument = 3

// defaultRAGTemplate is used when no template is configured.
const defaultRAGTemplate = "Use the following context to answer the question.\n\nContext:\n{context}\n\nQuestion: {question}\n\nAnswer:"

// resolutionStage loads the collection and the user's default pipeline,
// creating the pipeline on first use.
type resolutionStage struct {
	pipelines   PipelineStore
	collections CollectionStore
}

func (s *resolutionStage) Name() string { return StagePipelineResolution }

func (s *resolutionStage) Execute(ctx context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.Name()}

	collection, err := s.collections.GetCollection(ctx, sc.CollectionID)
	if err != nil {
		result.Err = fmt.Errorf("failed to resolve collection %s: %w", sc.CollectionID, err)
		return result
	}
	if !collection.Queryable() {
		result.Err = fmt.Errorf("collection %s is not queryable (status %s)", collection.ID, collection.Status)
		return result
	}
	sc.Collection = collection

	pl, err := s.pipelines.GetDefaultPipeline(ctx, sc.UserID)
	if errors.Is(err, ErrNoDefaultPipeline) {
		pl, err = s.pipelines.CreateDefaultPipeline(ctx, sc.UserID)
	}
	if err != nil {
		result.Err = fmt.Errorf("failed to resolve pipeline: %w", err)
		return result
	}
	sc.Pipeline = pl
	sc.PipelineID = pl.ID

	result.Metadata = map[string]any{
		"pipeline_id": pl.ID,
		"provider":    pl.Provider,
		"model":       pl.Model,
	}
	return result
}

// enhancementStage normalizes the question and decides whether this query
// gets chain-of-thought treatment.
type enhancementStage struct {
	cot *cot.Engine
}

func (s *enhancementStage) Name() string { return StageQueryEnhancement }

func (s *enhancementStage) Execute(_ context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.Name(), Optional: true}

	normalized := strings.Join(strings.Fields(sc.Question), " ")
	if normalized == "" {
		result.Optional = false
		result.Err = errors.New("question is empty after normalization")
		return result
	}
	if normalized != sc.Question {
		sc.RewrittenQuery = normalized
	}

	requested := sc.Config.FormatType == models.AnswerFormatCoTReasoning
	if s.cot != nil {
		sc.CoTEnabled = s.cot.ShouldEngage(normalized, requested)
	}

	result.Metadata = map[string]any{
		"rewritten":   sc.RewrittenQuery != "",
		"cot_enabled": sc.CoTEnabled,
	}
	return result
}

// agentStage adapts the agent executor to one pipeline point. Agent failures
// are recorded in the run summary and never abort the request.
type agentStage struct {
	name     string
	stage    config.AgentStage
	executor *agents.Executor
}

func (s *agentStage) Name() string { return s.name }

func (s *agentStage) Execute(ctx context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.name, Optional: true}
	if s.executor == nil || !s.executor.HasAgents(s.stage) {
		result.Skipped = true
		return result
	}
	before := len(sc.AgentSummary.Runs)
	s.executor.RunStage(ctx, s.stage, sc)
	result.Metadata = map[string]any{"runs": len(sc.AgentSummary.Runs) - before}
	return result
}

// retrievalStage runs the hybrid retriever.
type retrievalStage struct {
	retriever *retriever.Retriever
	k         int
}

func (s *retrievalStage) Name() string { return StageRetrieval }

func (s *retrievalStage) Execute(ctx context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.Name()}

	results, err := s.retriever.Retrieve(ctx, sc.Collection, effectiveQuery(sc), s.k)
	if err != nil {
		result.Err = err
		return result
	}
	sc.Results = results
	result.Metadata = map[string]any{"results": len(results)}
	return result
}

// rerankStage applies a deterministic diversity pass: at most
// maxChunksPerDocument chunks per document, preserving score order. Failure
// degrades to the raw retrieval order.
type rerankStage struct{}

func (s *rerankStage) Name() string { return StageReranking }

func (s *rerankStage) Execute(_ context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.Name(), Optional: true}
	if len(sc.Results) == 0 {
		result.Skipped = true
		return result
	}

	perDoc := make(map[string]int, len(sc.Results))
	reranked := make([]models.QueryResult, 0, len(sc.Results))
	var overflow []models.QueryResult
	for _, r := range sc.Results {
		if perDoc[r.Chunk.DocumentID] < maxChunksPerDocument {
			perDoc[r.Chunk.DocumentID]++
			reranked = append(reranked, r)
		} else {
			overflow = append(overflow, r)
		}
	}
	// Demoted chunks go to the tail rather than being dropped.
	reranked = append(reranked, overflow...)

	sc.RerankedResults = reranked
	result.Metadata = map[string]any{"demoted": len(overflow)}
	return result
}

// generationStage produces the plain-text answer, through the
// chain-of-thought engine when enabled. Under chain-of-thought, every
// sub-question runs its own retrieval so sub-answers are grounded in passages
// the original query may not have surfaced.
type generationStage struct {
	registry    *llm.Registry
	cot         *cot.Engine
	retriever   *retriever.Retriever
	k           int
	ragTemplate string
}

func (s *generationStage) Name() string { return StageGeneration }

func (s *generationStage) Execute(ctx context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.Name()}

	provider, err := s.registry.Get(sc.Pipeline.Provider)
	if err != nil {
		result.Err = err
		return result
	}
	params := generateParams(sc.Pipeline)
	baseResults := sc.FinalResults()

	var usage llm.Usage
	if sc.CoTEnabled && s.cot != nil {
		cotResult, err := s.cot.Run(ctx, effectiveQuery(sc), func(ctx context.Context, sub, carry string) (string, error) {
			results, err := s.retrieveForSubQuestion(ctx, sc, sub, baseResults)
			if err != nil {
				return "", err
			}
			prompt := s.renderPrompt(assembleContext(results, sc.Config.MaxContextPerDoc), sub)
			if carry != "" {
				prompt = "Previously established:\n" + carry + "\n" + prompt
			}
			answer, subUsage, err := provider.Generate(ctx, prompt, params)
			accumulateUsage(sc, subUsage)
			return answer, err
		})
		if err != nil {
			result.Err = err
			return result
		}
		sc.Answer = cotResult.Answer
		usage = cotResult.Usage
		if sc.Config.IncludeReasoning {
			sc.SetMetadata("reasoning_steps", cotResult.ReasoningSteps)
		}
	} else {
		contextText := assembleContext(baseResults, sc.Config.MaxContextPerDoc)
		answer, genUsage, err := provider.Generate(ctx, s.renderPrompt(contextText, effectiveQuery(sc)), params)
		if err != nil {
			result.Err = err
			return result
		}
		sc.Answer = cot.CleanAnswer(answer)
		usage = genUsage
	}
	accumulateUsage(sc, usage)

	sc.Documents = documentsOf(sc.FinalResults())
	result.Metadata = map[string]any{
		"answer_chars":  len(sc.Answer),
		"prompt_tokens": sc.Usage.PromptTokens,
	}
	return result
}

// retrieveForSubQuestion retrieves passages for one chain-of-thought
// sub-question. An empty sub-retrieval falls back to the parent query's
// results so the sub-answer still has context.
func (s *generationStage) retrieveForSubQuestion(ctx context.Context, sc *models.SearchContext,
	sub string, base []models.QueryResult) ([]models.QueryResult, error) {

	if s.retriever == nil {
		return base, nil
	}
	results, err := s.retriever.Retrieve(ctx, sc.Collection, sub, s.k)
	if err != nil {
		return nil, fmt.Errorf("sub-question retrieval: %w", err)
	}
	if len(results) == 0 {
		return base, nil
	}
	return results, nil
}

func (s *generationStage) renderPrompt(contextText, question string) string {
	template := s.ragTemplate
	if template == "" {
		template = defaultRAGTemplate
	}
	prompt := strings.ReplaceAll(template, "{context}", contextText)
	return strings.ReplaceAll(prompt, "{question}", question)
}

// validationStage produces and validates a structured answer when structured
// output is requested. In strict mode a validation failure aborts the
// request; otherwise the plain answer from generation survives.
type validationStage struct {
	registry    *llm.Registry
	validator   *validation.Validator
	ragTemplate string
}

func (s *validationStage) Name() string { return StageValidation }

func (s *validationStage) Execute(ctx context.Context, sc *models.SearchContext) StageResult {
	result := StageResult{Stage: s.Name(), Optional: !sc.Config.ValidationStrict}
	if !sc.Config.StructuredOutputEnabled {
		result.Skipped = true
		return result
	}

	provider, err := s.registry.Get(sc.Pipeline.Provider)
	if err != nil {
		result.Err = err
		return result
	}
	params := generateParams(sc.Pipeline)
	contextChunks := sc.FinalResults()
	contextText := assembleContext(contextChunks, sc.Config.MaxContextPerDoc)
	prompt := buildStructuredPrompt(s.ragTemplate, contextText, effectiveQuery(sc))

	cfg := validation.Config{
		MinConfidence:    sc.Config.MinConfidence,
		RequireCitations: true,
		MaxCitations:     sc.Config.MaxCitations,
	}

	answer, err := s.validator.ValidateWithRetry(ctx, func(ctx context.Context) (*models.StructuredAnswer, error) {
		raw, usage, err := provider.GenerateStructured(ctx, prompt, validation.AnswerSchemaJSON(), params)
		accumulateUsage(sc, usage)
		if err != nil {
			return nil, err
		}
		return validation.DecodeStructuredAnswer(raw)
	}, contextChunks, cfg, true)
	if err != nil {
		result.Err = err
		return result
	}

	if sc.Config.FormatType == models.AnswerFormatCoTReasoning {
		answer.Format = models.AnswerFormatCoTReasoning
	}
	if !sc.Config.IncludeReasoning {
		answer.ReasoningSteps = nil
	}
	models.SortCitations(answer.Citations)
	sc.StructuredAnswer = answer
	sc.Answer = answer.Answer

	result.Metadata = map[string]any{
		"citations":     len(answer.Citations),
		"confidence":    answer.Confidence,
		"quality_score": validation.QualityScore(answer),
	}
	return result
}

func buildStructuredPrompt(template, contextText, question string) string {
	if template == "" {
		template = defaultRAGTemplate
	}
	prompt := strings.ReplaceAll(template, "{context}", contextText)
	prompt = strings.ReplaceAll(prompt, "{question}", question)
	return prompt + "\n\nCite only documents present in the context, by their document id."
}

// effectiveQuery prefers the rewritten query.
func effectiveQuery(sc *models.SearchContext) string {
	if sc.RewrittenQuery != "" {
		return sc.RewrittenQuery
	}
	return sc.Question
}

// assembleContext concatenates chunk texts grouped per document, capping each
// document's contribution at maxPerDoc characters.
func assembleContext(results []models.QueryResult, maxPerDoc int) string {
	if maxPerDoc <= 0 {
		maxPerDoc = 4000
	}
	perDoc := make(map[string]int, len(results))
	var b strings.Builder
	for _, r := range results {
		used := perDoc[r.Chunk.DocumentID]
		if used >= maxPerDoc {
			continue
		}
		text := r.Chunk.Text
		if used+len(text) > maxPerDoc {
			text = text[:maxPerDoc-used]
		}
		perDoc[r.Chunk.DocumentID] = used + len(text)
		fmt.Fprintf(&b, "[%s] %s\n\n", r.Chunk.DocumentID, text)
	}
	return strings.TrimSpace(b.String())
}

func documentsOf(results []models.QueryResult) []models.DocumentMetadata {
	seen := make(map[string]bool, len(results))
	var docs []models.DocumentMetadata
	for _, r := range results {
		if seen[r.Chunk.DocumentID] {
			continue
		}
		seen[r.Chunk.DocumentID] = true
		docs = append(docs, models.DocumentMetadata{DocumentID: r.Chunk.DocumentID})
	}
	return docs
}

func generateParams(pl *models.Pipeline) llm.GenerateParams {
	return llm.GenerateParams{
		Model:             pl.Model,
		Temperature:       pl.Parameters.Temperature,
		MaxTokens:         pl.Parameters.MaxTokens,
		TopK:              pl.Parameters.TopK,
		TopP:              pl.Parameters.TopP,
		RepetitionPenalty: pl.Parameters.RepetitionPenalty,
	}
}

func accumulateUsage(sc *models.SearchContext, usage llm.Usage) {
	sc.Usage.PromptTokens += usage.PromptTokens
	sc.Usage.CompletionTokens += usage.CompletionTokens
	sc.Usage.TotalTokens += usage.TotalTokens
	if usage.Model != "" {
		sc.Usage.Model = usage.Model
	}
}

// stageTimer measures a stage execution.
func stageTimer() func() int64 {
	start := time.Now()
	return func() int64 { return time.Since(start).Milliseconds() }
}
