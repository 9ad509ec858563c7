package cot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/llm"
)

// scriptedGenerator returns canned responses in order and records prompts.
type scriptedGenerator struct {
	responses []string
	prompts   []string
	err       error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ llm.GenerateParams) (string, llm.Usage, error) {
	if g.err != nil {
		return "", llm.Usage{}, g.err
	}
	g.prompts = append(g.prompts, prompt)
	if len(g.responses) == 0 {
		return "", llm.Usage{}, errors.New("script exhausted")
	}
	response := g.responses[0]
	g.responses = g.responses[1:]
	return response, llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (g *scriptedGenerator) GenerateStructured(_ context.Context, _ string, _ json.RawMessage, _ llm.GenerateParams) (json.RawMessage, llm.Usage, error) {
	return nil, llm.Usage{}, errors.New("not used")
}

func TestDefaultPredicate(t *testing.T) {
	t.Run("short simple question does not engage", func(t *testing.T) {
		assert.False(t, DefaultPredicate("What is VACUUM?"))
	})

	t.Run("long question engages", func(t *testing.T) {
		long := "What is the difference in operational behavior between a clustered index and a heap table when the workload is append-heavy and read-mostly?"
		assert.True(t, DefaultPredicate(long))
	})

	t.Run("multiple markers engage", func(t *testing.T) {
		assert.True(t, DefaultPredicate("Why does this happen and how do I fix it?"))
	})

	t.Run("single marker does not engage", func(t *testing.T) {
		assert.False(t, DefaultPredicate("Why does this happen?"))
	})
}

func TestShouldEngage_RequestOverridesPredicate(t *testing.T) {
	engine := New(&scriptedGenerator{}, llm.GenerateParams{}, func(string) bool { return false })

	assert.True(t, engine.ShouldEngage("simple", true))
	assert.False(t, engine.ShouldEngage("simple", false))
}

func TestParseNumberedList(t *testing.T) {
	t.Run("numbered lines", func(t *testing.T) {
		items := parseNumberedList("1. First\n2. Second\n3) Third", 5)
		assert.Equal(t, []string{"First", "Second", "Third"}, items)
	})

	t.Run("bulleted lines", func(t *testing.T) {
		items := parseNumberedList("- one\n- two", 5)
		assert.Equal(t, []string{"one", "two"}, items)
	})

	t.Run("blank lines skipped and max enforced", func(t *testing.T) {
		items := parseNumberedList("1. a\n\n2. b\n3. c", 2)
		assert.Equal(t, []string{"a", "b"}, items)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, parseNumberedList("", 5))
	})
}

func TestDecompose(t *testing.T) {
	t.Run("parses sub-questions", func(t *testing.T) {
		gen := &scriptedGenerator{responses: []string{"1. What is X?\n2. What is Y?"}}
		engine := New(gen, llm.GenerateParams{}, nil)

		subs, usage, err := engine.Decompose(context.Background(), "Compare X and Y")
		require.NoError(t, err)
		assert.Equal(t, []string{"What is X?", "What is Y?"}, subs)
		assert.Equal(t, 15, usage.TotalTokens)
	})

	t.Run("unusable output falls back to the original question", func(t *testing.T) {
		gen := &scriptedGenerator{responses: []string{"\n\n"}}
		engine := New(gen, llm.GenerateParams{}, nil)

		subs, _, err := engine.Decompose(context.Background(), "Compare X and Y")
		require.NoError(t, err)
		assert.Equal(t, []string{"Compare X and Y"}, subs)
	})

	t.Run("generator error propagates", func(t *testing.T) {
		engine := New(&scriptedGenerator{err: errors.New("down")}, llm.GenerateParams{}, nil)
		_, _, err := engine.Decompose(context.Background(), "Compare X and Y")
		assert.Error(t, err)
	})
}

func TestRun_CarriesForwardPriorAnswers(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"1. What is X?\n2. What is Y?", // decomposition
		"X and Y are both Z.",          // synthesis
	}}
	engine := New(gen, llm.GenerateParams{}, nil)

	var carries []string
	result, err := engine.Run(context.Background(), "Compare X and Y",
		func(_ context.Context, sub, carry string) (string, error) {
			carries = append(carries, carry)
			return fmt.Sprintf("answer to %s", sub), nil
		})
	require.NoError(t, err)

	require.Len(t, carries, 2)
	assert.Empty(t, carries[0])
	assert.Contains(t, carries[1], "Q: What is X?")
	assert.Contains(t, carries[1], "A: answer to What is X?")

	assert.Equal(t, "X and Y are both Z.", result.Answer)
	assert.Equal(t, []string{"What is X?", "What is Y?"}, result.SubQuestions)
	require.Len(t, result.ReasoningSteps, 2)
	assert.Equal(t, 1, result.ReasoningSteps[0].StepNumber)
	assert.Equal(t, "What is X?", result.ReasoningSteps[0].Thought)
	assert.Equal(t, "answer to What is X?", result.ReasoningSteps[0].Conclusion)

	// Synthesis prompt contains the intermediate findings
	synthesis := gen.prompts[len(gen.prompts)-1]
	assert.Contains(t, synthesis, "Original question: Compare X and Y")
	assert.Contains(t, synthesis, "answer to What is Y?")
}

func TestRun_AccountsDecompositionAndSynthesisUsage(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"1. What is X?", // decomposition: 15 tokens
		"X is Z.",       // synthesis: 15 tokens
	}}
	engine := New(gen, llm.GenerateParams{}, nil)

	result, err := engine.Run(context.Background(), "What is X, really?",
		func(_ context.Context, _, _ string) (string, error) { return "an answer", nil })
	require.NoError(t, err)

	assert.Equal(t, 30, result.Usage.TotalTokens)
	assert.Equal(t, 20, result.Usage.PromptTokens)
	assert.Equal(t, 10, result.Usage.CompletionTokens)
}

func TestRun_SubAnswerFailureAborts(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"1. a?\n2. b?"}}
	engine := New(gen, llm.GenerateParams{}, nil)

	_, err := engine.Run(context.Background(), "q",
		func(_ context.Context, _, _ string) (string, error) {
			return "", errors.New("retrieval failed")
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-question 1")
}

func TestCleanAnswer(t *testing.T) {
	t.Run("strips thinking blocks", func(t *testing.T) {
		got := CleanAnswer("<thinking>internal deliberation</thinking>The result is 42.")
		assert.Equal(t, "The result is 42.", got)
	})

	t.Run("unterminated thinking block truncates", func(t *testing.T) {
		got := CleanAnswer("Partial text <thinking>never closed")
		assert.Equal(t, "Partial text", got)
	})

	t.Run("strips answer prefaces", func(t *testing.T) {
		assert.Equal(t, "42.", CleanAnswer("Answer: 42."))
		assert.Equal(t, "42.", CleanAnswer("Final answer: 42."))
		assert.Equal(t, "42.", CleanAnswer("Final Answer: 42."))
	})

	t.Run("collapses blank line runs", func(t *testing.T) {
		got := CleanAnswer("para one\n\n\n\npara two")
		assert.Equal(t, "para one\n\npara two", got)
	})

	t.Run("plain answer unchanged", func(t *testing.T) {
		assert.Equal(t, "Nothing to clean.", CleanAnswer("Nothing to clean."))
	})
}
