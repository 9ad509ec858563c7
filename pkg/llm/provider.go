// Package llm defines the provider capability set used by the query
// pipeline — embedding generation, plain text generation, and structured
// (schema-constrained) generation — together with adapters for OpenAI,
// Anthropic, and a deterministic local stub.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Usage reports the token accounting of one LLM call.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
}

// GenerateParams are per-call generation parameters, typically taken from
// the resolved pipeline.
type GenerateParams struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	TopK              int
	TopP              float64
	RepetitionPenalty float64
}

// Embedder produces dense embeddings for a batch of texts. All vectors in
// one batch share the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces completions for prompts.
type Generator interface {
	// Generate returns plain completion text.
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, Usage, error)
	// GenerateStructured returns a completion constrained to the given JSON
	// schema. The raw JSON is returned for the caller to decode and validate.
	GenerateStructured(ctx context.Context, prompt string, schema json.RawMessage, params GenerateParams) (json.RawMessage, Usage, error)
}

// Provider is the full capability set a pipeline binds.
type Provider interface {
	Embedder
	Generator
	Name() string
}

// ProviderError wraps a backend failure. The structured-output validator
// never retries a ProviderError; it propagates immediately.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
	return p, nil
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
