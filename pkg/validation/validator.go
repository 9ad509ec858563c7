package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
)

// Defaults for the validator configuration.
const (
	DefaultMaxRetries      = 3
	DefaultMinAnswerLength = 10
	minExcerptLength       = 10
)

// Issue is one validation finding, located by field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationFailedError reports that validation exhausted retries and
// fallback; it carries the accumulated issues across attempts.
type ValidationFailedError struct {
	Issues []Issue
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", issue.Field, issue.Message)
	}
	return "structured answer validation failed: " + strings.Join(parts, "; ")
}

// Config tunes the validation checks.
type Config struct {
	MaxRetries       int
	MinAnswerLength  int
	MinConfidence    float64
	RequireCitations bool
	MaxCitations     int
}

// DefaultConfig returns the standard validation configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		MinAnswerLength:  DefaultMinAnswerLength,
		MinConfidence:    0.0,
		RequireCitations: true,
		MaxCitations:     5,
	}
}

// GenerateFunc produces one structured-answer attempt. The validator calls
// it up to MaxRetries times.
type GenerateFunc func(ctx context.Context) (*models.StructuredAnswer, error)

// Validator runs the retry-then-fallback control flow.
type Validator struct {
	attribution *AttributionService
	logger      *slog.Logger
}

// NewValidator creates a Validator. attribution may be nil when the
// deterministic fallback is never enabled.
func NewValidator(attribution *AttributionService) *Validator {
	return &Validator{attribution: attribution, logger: slog.Default()}
}

// ValidateWithRetry calls generate up to cfg.MaxRetries times and returns
// the first valid result. Provider errors are not retried — they propagate
// immediately. When all attempts fail and fallback is enabled, the
// attribution service synthesizes citations deterministically from the last
// answer; if the revalidated result passes it is returned, otherwise a
// ValidationFailedError carries the accumulated issues.
func (v *Validator) ValidateWithRetry(ctx context.Context, generate GenerateFunc,
	contextChunks []models.QueryResult, cfg Config, fallbackEnabled bool) (*models.StructuredAnswer, error) {

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	contextDocs := contextDocumentIDs(contextChunks)

	var accumulated []Issue
	var lastAnswer *models.StructuredAnswer

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		answer, err := generate(ctx)
		if err != nil {
			if llm.IsProviderError(err) {
				return nil, err
			}
			var vfe *ValidationFailedError
			if errors.As(err, &vfe) {
				accumulated = append(accumulated, vfe.Issues...)
				v.logger.Warn("Structured generation attempt invalid",
					"attempt", attempt, "issues", len(vfe.Issues))
				continue
			}
			return nil, err
		}

		lastAnswer = answer
		issues := Validate(answer, contextDocs, cfg)
		if len(issues) == 0 {
			answer.Citations = models.DedupeCitations(answer.Citations)
			return answer, nil
		}
		accumulated = append(accumulated, issues...)
		v.logger.Warn("Structured answer failed validation",
			"attempt", attempt, "issues", len(issues))
	}

	if fallbackEnabled && v.attribution != nil && lastAnswer != nil {
		repaired, err := v.fallback(ctx, lastAnswer, contextChunks, contextDocs, cfg)
		if err == nil {
			return repaired, nil
		}
		accumulated = append(accumulated, Issue{Field: "citations", Message: fmt.Sprintf("attribution fallback failed: %v", err)})
	}

	return nil, &ValidationFailedError{Issues: accumulated}
}

// fallback rebuilds the last answer's citations via post-hoc attribution and
// revalidates.
func (v *Validator) fallback(ctx context.Context, answer *models.StructuredAnswer,
	contextChunks []models.QueryResult, contextDocs map[string]bool, cfg Config) (*models.StructuredAnswer, error) {

	maxCitations := cfg.MaxCitations
	if maxCitations <= 0 {
		maxCitations = 5
	}
	citations, err := v.attribution.Attribute(ctx, answer.Answer, contextChunks, maxCitations)
	if err != nil {
		return nil, err
	}

	repaired := *answer
	repaired.Citations = models.DedupeCitations(citations)
	if issues := Validate(&repaired, contextDocs, cfg); len(issues) > 0 {
		return nil, &ValidationFailedError{Issues: issues}
	}
	v.logger.Info("Attribution fallback produced valid citations",
		"citations", len(repaired.Citations))
	return &repaired, nil
}

// Validate runs all checks for one attempt and returns every issue found.
// A valid answer returns an empty slice; re-validating a valid answer is a
// no-op.
func Validate(answer *models.StructuredAnswer, contextDocs map[string]bool, cfg Config) []Issue {
	var issues []Issue

	minLen := cfg.MinAnswerLength
	if minLen <= 0 {
		minLen = DefaultMinAnswerLength
	}
	if len(strings.TrimSpace(answer.Answer)) < minLen {
		issues = append(issues, Issue{Field: "answer", Message: fmt.Sprintf("answer shorter than %d characters", minLen)})
	}
	if answer.Confidence < cfg.MinConfidence {
		issues = append(issues, Issue{Field: "confidence", Message: fmt.Sprintf("confidence %.2f below minimum %.2f", answer.Confidence, cfg.MinConfidence)})
	}
	if answer.Confidence < 0 || answer.Confidence > 1 {
		issues = append(issues, Issue{Field: "confidence", Message: "confidence outside [0,1]"})
	}
	if cfg.RequireCitations && len(answer.Citations) == 0 {
		issues = append(issues, Issue{Field: "citations", Message: "at least one citation is required"})
	}

	for i, citation := range answer.Citations {
		field := fmt.Sprintf("citations[%d]", i)
		if !contextDocs[citation.DocumentID] {
			issues = append(issues, Issue{Field: field, Message: fmt.Sprintf("document %q not in retrieval context", citation.DocumentID)})
		}
		if len(citation.Excerpt) < minExcerptLength {
			issues = append(issues, Issue{Field: field, Message: fmt.Sprintf("excerpt shorter than %d characters", minExcerptLength)})
		}
		if citation.RelevanceScore < 0 || citation.RelevanceScore > 1 {
			issues = append(issues, Issue{Field: field, Message: "relevance score outside [0,1]"})
		}
	}

	for i, step := range answer.ReasoningSteps {
		field := fmt.Sprintf("reasoning_steps[%d]", i)
		if strings.TrimSpace(step.Thought) == "" {
			issues = append(issues, Issue{Field: field, Message: "thought is empty"})
		}
		if strings.TrimSpace(step.Conclusion) == "" {
			issues = append(issues, Issue{Field: field, Message: "conclusion is empty"})
		}
		if step.StepNumber != i+1 {
			issues = append(issues, Issue{Field: field, Message: fmt.Sprintf("step number %d, expected %d", step.StepNumber, i+1)})
		}
	}

	return issues
}

// QualityScore reports a weighted answer-quality score in [0,1]: confidence
// 40%, citation quality 30% (saturating at 3 citations), answer completeness
// 20% (saturating at 200 chars), reasoning presence 10%. Reporting only —
// never gates validation.
func QualityScore(answer *models.StructuredAnswer) float64 {
	confidence := clamp01(answer.Confidence)

	citationQuality := float64(len(answer.Citations)) / 3
	if citationQuality > 1 {
		citationQuality = 1
	}

	completeness := float64(len(answer.Answer)) / 200
	if completeness > 1 {
		completeness = 1
	}

	reasoning := 0.0
	if len(answer.ReasoningSteps) > 0 {
		reasoning = 1.0
	}

	return 0.4*confidence + 0.3*citationQuality + 0.2*completeness + 0.1*reasoning
}

// contextDocumentIDs collects the document ids present in the retrieval
// context.
func contextDocumentIDs(chunks []models.QueryResult) map[string]bool {
	docs := make(map[string]bool, len(chunks))
	for _, result := range chunks {
		docs[result.Chunk.DocumentID] = true
	}
	return docs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
