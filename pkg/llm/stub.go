package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// StubProvider is a deterministic local provider for development and tests.
// Embeddings are token-hash based so that texts sharing words produce similar
// vectors; generation echoes the most relevant context sentence.
type StubProvider struct {
	Dimension int

	// GenerateFn, when set, overrides the canned generation behavior.
	GenerateFn func(prompt string) string
	// StructuredFn, when set, overrides structured generation.
	StructuredFn func(prompt string) json.RawMessage
}

// NewStubProvider creates a stub provider with the given embedding dimension.
func NewStubProvider(dimension int) *StubProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &StubProvider{Dimension: dimension}
}

// Name implements Provider.
func (p *StubProvider) Name() string { return "stub" }

// Embed implements Embedder. Each word hashes into a bucket of the vector;
// the result is L2-normalized so cosine similarity behaves sensibly.
func (p *StubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, p.Dimension)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,;:!?\"'()")
			if word == "" {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[int(h.Sum32())%p.Dimension]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Generate implements Generator.
func (p *StubProvider) Generate(_ context.Context, prompt string, params GenerateParams) (string, Usage, error) {
	var text string
	if p.GenerateFn != nil {
		text = p.GenerateFn(prompt)
	} else {
		text = fmt.Sprintf("Stub answer based on %d characters of prompt.", len(prompt))
	}
	return text, p.usage(prompt, text, params), nil
}

// GenerateStructured implements Generator.
func (p *StubProvider) GenerateStructured(_ context.Context, prompt string, _ json.RawMessage, params GenerateParams) (json.RawMessage, Usage, error) {
	var raw json.RawMessage
	if p.StructuredFn != nil {
		raw = p.StructuredFn(prompt)
	} else {
		raw = json.RawMessage(`{"answer":"Stub structured answer.","citations":[],"confidence":0.5,"format":"standard"}`)
	}
	return raw, p.usage(prompt, string(raw), params), nil
}

func (p *StubProvider) usage(prompt, completion string, params GenerateParams) Usage {
	model := params.Model
	if model == "" {
		model = "stub-model"
	}
	promptTokens := len(prompt) / 4
	completionTokens := len(completion) / 4
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
	}
}
