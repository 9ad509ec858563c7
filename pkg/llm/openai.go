package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAPI captures the subset of the go-openai client used by the adapter.
// Satisfied by *openai.Client; tests pass a mock.
type OpenAIAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIProvider implements Provider via the OpenAI Chat Completions and
// Embeddings APIs.
type OpenAIProvider struct {
	api            OpenAIAPI
	defaultModel   string
	embeddingModel string
}

// NewOpenAIProvider builds an OpenAI-backed provider.
func NewOpenAIProvider(api OpenAIAPI, defaultModel, embeddingModel string) (*OpenAIProvider, error) {
	if api == nil {
		return nil, errors.New("openai client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model is required")
	}
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}
	return &OpenAIProvider{api: api, defaultModel: defaultModel, embeddingModel: embeddingModel}, nil
}

// NewOpenAIProviderFromAPIKey constructs a provider using the default
// go-openai HTTP client.
func NewOpenAIProviderFromAPIKey(apiKey, defaultModel, embeddingModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return NewOpenAIProvider(openai.NewClient(apiKey), defaultModel, embeddingModel)
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Embed implements Embedder via the Embeddings API.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Op: "embed", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: p.Name(),
			Op:       "embed",
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Generate implements Generator.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, params GenerateParams) (string, Usage, error) {
	resp, err := p.api.CreateChatCompletion(ctx, p.chatRequest(prompt, params, nil))
	if err != nil {
		return "", Usage{}, &ProviderError{Provider: p.Name(), Op: "generate", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, &ProviderError{Provider: p.Name(), Op: "generate", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, usageFromOpenAI(resp), nil
}

// GenerateStructured implements Generator. The schema is embedded in the
// prompt and JSON mode is requested so the model returns a single JSON
// object; decoding and semantic validation happen in the validator.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, prompt string, schema json.RawMessage, params GenerateParams) (json.RawMessage, Usage, error) {
	format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	structured := structuredPrompt(prompt, schema)
	resp, err := p.api.CreateChatCompletion(ctx, p.chatRequest(structured, params, format))
	if err != nil {
		return nil, Usage{}, &ProviderError{Provider: p.Name(), Op: "generate_structured", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, Usage{}, &ProviderError{Provider: p.Name(), Op: "generate_structured", Err: errors.New("no choices returned")}
	}
	return json.RawMessage(resp.Choices[0].Message.Content), usageFromOpenAI(resp), nil
}

func (p *OpenAIProvider) chatRequest(prompt string, params GenerateParams, format *openai.ChatCompletionResponseFormat) openai.ChatCompletionRequest {
	model := params.Model
	if model == "" {
		model = p.defaultModel
	}
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    float32(params.Temperature),
		MaxTokens:      params.MaxTokens,
		TopP:           float32(params.TopP),
		ResponseFormat: format,
	}
}

func usageFromOpenAI(resp openai.ChatCompletionResponse) Usage {
	return Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Model:            resp.Model,
	}
}

// structuredPrompt appends the JSON-schema instruction block to the prompt.
func structuredPrompt(prompt string, schema json.RawMessage) string {
	if len(schema) == 0 {
		return prompt
	}
	return prompt + "\n\nRespond with a single JSON object conforming to this JSON schema:\n" + string(schema)
}
