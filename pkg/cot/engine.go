// Package cot implements chain-of-thought question answering: decompose a
// complex question into sub-questions, answer each through the retrieval and
// generation pipeline, and synthesize a final answer.
package cot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
)

// DefaultMaxSubQuestions bounds decomposition.
const DefaultMaxSubQuestions = 5

// Predicate decides whether a question warrants chain-of-thought treatment.
// The heuristic is deliberately pluggable; DefaultPredicate is a starting
// point, not a contract.
type Predicate func(question string) bool

// DefaultPredicate engages CoT for long questions and questions carrying
// multiple interrogative or enumeration markers.
func DefaultPredicate(question string) bool {
	if len(question) > 120 {
		return true
	}
	lower := strings.ToLower(question)
	markers := 0
	for _, marker := range []string{"why", "how", "compare", "difference", "explain", " and ", "first", "then"} {
		if strings.Contains(lower, marker) {
			markers++
		}
	}
	return markers >= 2
}

// SubAnswerFunc answers one sub-question through retrieval + generation.
// carry holds the concatenated previous (sub-question, sub-answer) pairs.
type SubAnswerFunc func(ctx context.Context, subQuestion, carry string) (string, error)

// Result is the outcome of a chain-of-thought run.
type Result struct {
	Answer         string
	SubQuestions   []string
	SubAnswers     []string
	ReasoningSteps []models.ReasoningStep
	Usage          llm.Usage
}

// Engine runs decomposition, sub-answering, and synthesis.
type Engine struct {
	generator       llm.Generator
	params          llm.GenerateParams
	predicate       Predicate
	maxSubQuestions int
	logger          *slog.Logger
}

// New creates an Engine. A nil predicate uses DefaultPredicate.
func New(generator llm.Generator, params llm.GenerateParams, predicate Predicate) *Engine {
	if predicate == nil {
		predicate = DefaultPredicate
	}
	return &Engine{
		generator:       generator,
		params:          params,
		predicate:       predicate,
		maxSubQuestions: DefaultMaxSubQuestions,
		logger:          slog.Default(),
	}
}

// ShouldEngage combines the request flag with the complexity predicate.
func (e *Engine) ShouldEngage(question string, requested bool) bool {
	return requested || e.predicate(question)
}

// Run executes the full decompose → answer → synthesize flow. Result.Usage
// covers the decomposition and synthesis calls; sub-answer usage is the
// callback's to account for.
func (e *Engine) Run(ctx context.Context, question string, answerSub SubAnswerFunc) (*Result, error) {
	subQuestions, decomposeUsage, err := e.Decompose(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to decompose question: %w", err)
	}
	e.logger.Info("Question decomposed", "sub_questions", len(subQuestions))

	result := &Result{SubQuestions: subQuestions}
	var carry strings.Builder
	for i, sub := range subQuestions {
		answer, err := answerSub(ctx, sub, carry.String())
		if err != nil {
			return nil, fmt.Errorf("failed to answer sub-question %d: %w", i+1, err)
		}
		answer = CleanAnswer(answer)
		result.SubAnswers = append(result.SubAnswers, answer)
		result.ReasoningSteps = append(result.ReasoningSteps, models.ReasoningStep{
			StepNumber: i + 1,
			Thought:    sub,
			Conclusion: answer,
		})
		fmt.Fprintf(&carry, "Q: %s\nA: %s\n\n", sub, answer)
	}

	final, synthesisUsage, err := e.synthesize(ctx, question, result.SubQuestions, result.SubAnswers)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize answer: %w", err)
	}
	result.Answer = CleanAnswer(final)
	result.Usage = sumUsage(decomposeUsage, synthesisUsage)
	return result, nil
}

// Decompose splits the question into an ordered, bounded list of
// sub-questions. When the model produces nothing usable, the original
// question is the single sub-question.
func (e *Engine) Decompose(ctx context.Context, question string) ([]string, llm.Usage, error) {
	prompt := fmt.Sprintf(
		"Break the following question into at most %d simpler sub-questions, one per line, numbered.\n\nQuestion: %s",
		e.maxSubQuestions, question)
	text, usage, err := e.generator.Generate(ctx, prompt, e.params)
	if err != nil {
		return nil, usage, err
	}

	subQuestions := parseNumberedList(text, e.maxSubQuestions)
	if len(subQuestions) == 0 {
		subQuestions = []string{question}
	}
	return subQuestions, usage, nil
}

func sumUsage(a, b llm.Usage) llm.Usage {
	total := llm.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
		Model:            b.Model,
	}
	if total.Model == "" {
		total.Model = a.Model
	}
	return total
}

func (e *Engine) synthesize(ctx context.Context, question string, subQuestions, subAnswers []string) (string, llm.Usage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", question)
	b.WriteString("Intermediate findings:\n")
	for i := range subQuestions {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n", i+1, subQuestions[i], subAnswers[i])
	}
	b.WriteString("\nUsing only the findings above, give a complete answer to the original question.")
	return e.generator.Generate(ctx, b.String(), e.params)
}

// parseNumberedList extracts up to max items from numbered or bulleted
// lines.
func parseNumberedList(text string, max int) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "0123456789.)- \t")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
		if len(items) == max {
			break
		}
	}
	return items
}

// CleanAnswer strips reasoning leakage: <thinking>…</thinking> blocks and
// "Answer:" prefaces. Runs of three or more blank lines collapse to two.
func CleanAnswer(answer string) string {
	for {
		start := strings.Index(answer, "<thinking>")
		if start < 0 {
			break
		}
		end := strings.Index(answer[start:], "</thinking>")
		if end < 0 {
			answer = answer[:start]
			break
		}
		answer = answer[:start] + answer[start+end+len("</thinking>"):]
	}

	answer = strings.TrimSpace(answer)
	for _, preface := range []string{"Answer:", "Final answer:", "Final Answer:"} {
		if strings.HasPrefix(answer, preface) {
			answer = strings.TrimSpace(strings.TrimPrefix(answer, preface))
		}
	}

	// Collapse runs of 3+ blank lines to two.
	for strings.Contains(answer, "\n\n\n") {
		answer = strings.ReplaceAll(answer, "\n\n\n", "\n\n")
	}
	return answer
}
