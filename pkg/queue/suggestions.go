package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/services"
)

// defaultQuestionTemplate is used when no question-generation template is
// configured.
const defaultQuestionTemplate = "Based on the question and answer below, suggest {count} short follow-up questions a reader might ask next, one per line.\n\nQuestion: {question}\n\nAnswer: {answer}"

// suggestionCount is how many follow-up questions one search produces.
const suggestionCount = 3

// SuggestionGenerator builds background tasks that generate follow-up
// questions after a search completes.
type SuggestionGenerator struct {
	registry    *llm.Registry
	suggestions *services.SuggestionService
	template    string
}

// NewSuggestionGenerator wires a generator. An empty template uses the
// built-in default.
func NewSuggestionGenerator(registry *llm.Registry, suggestions *services.SuggestionService, template string) *SuggestionGenerator {
	return &SuggestionGenerator{registry: registry, suggestions: suggestions, template: template}
}

// Task returns the background task for one completed search.
func (g *SuggestionGenerator) Task(collectionID, question, answer string, pl *models.Pipeline) Task {
	return Task{
		Name: "generate_suggestions",
		Run: func(ctx context.Context) error {
			return g.generate(ctx, collectionID, question, answer, pl)
		},
	}
}

func (g *SuggestionGenerator) generate(ctx context.Context, collectionID, question, answer string, pl *models.Pipeline) error {
	provider, err := g.registry.Get(pl.Provider)
	if err != nil {
		return err
	}

	prompt := g.renderPrompt(question, answer)
	params := llm.GenerateParams{
		Model:       pl.Model,
		Temperature: pl.Parameters.Temperature,
		MaxTokens:   256,
	}
	text, _, err := provider.Generate(ctx, prompt, params)
	if err != nil {
		return fmt.Errorf("failed to generate follow-up questions: %w", err)
	}

	questions := parseQuestions(text, suggestionCount)
	if len(questions) == 0 {
		return nil
	}
	if _, err := g.suggestions.ReplaceSuggestions(ctx, collectionID, questions); err != nil {
		return err
	}
	return nil
}

func (g *SuggestionGenerator) renderPrompt(question, answer string) string {
	template := g.template
	if template == "" {
		template = defaultQuestionTemplate
	}
	prompt := strings.ReplaceAll(template, "{count}", fmt.Sprintf("%d", suggestionCount))
	prompt = strings.ReplaceAll(prompt, "{question}", question)
	return strings.ReplaceAll(prompt, "{answer}", answer)
}

// parseQuestions extracts up to max question lines, stripping list markers.
func parseQuestions(text string, max int) []string {
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) == max {
			break
		}
	}
	return questions
}
