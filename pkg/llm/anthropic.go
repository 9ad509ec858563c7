package llm

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicMessages captures the subset of the Anthropic SDK client used by
// the adapter. Satisfied by *sdk.MessageService so callers can pass either a
// real client or a mock in tests.
type AnthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider implements the generation capabilities via the Claude
// Messages API. Anthropic has no embeddings endpoint, so Embed always fails;
// deployments pairing Anthropic generation with dense retrieval configure a
// separate embedding provider.
type AnthropicProvider struct {
	msg          AnthropicMessages
	defaultModel string
}

// NewAnthropicProvider builds an Anthropic-backed provider.
func NewAnthropicProvider(msg AnthropicMessages, defaultModel string) (*AnthropicProvider, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &AnthropicProvider{msg: msg, defaultModel: defaultModel}, nil
}

// NewAnthropicProviderFromAPIKey constructs a provider using the default
// Anthropic HTTP client.
func NewAnthropicProviderFromAPIKey(apiKey, defaultModel string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicProvider(&client.Messages, defaultModel)
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Embed implements Embedder. Always fails: the Messages API does not serve
// embeddings.
func (p *AnthropicProvider) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, &ProviderError{Provider: p.Name(), Op: "embed", Err: errors.New("anthropic does not provide embeddings")}
}

// Generate implements Generator.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, params GenerateParams) (string, Usage, error) {
	msg, err := p.msg.New(ctx, p.messageParams(prompt, params))
	if err != nil {
		return "", Usage{}, &ProviderError{Provider: p.Name(), Op: "generate", Err: err}
	}
	return collectText(msg), usageFromAnthropic(msg), nil
}

// GenerateStructured implements Generator. The schema is embedded in the
// prompt; Claude returns a single JSON object that the validator decodes.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, prompt string, schema json.RawMessage, params GenerateParams) (json.RawMessage, Usage, error) {
	msg, err := p.msg.New(ctx, p.messageParams(structuredPrompt(prompt, schema), params))
	if err != nil {
		return nil, Usage{}, &ProviderError{Provider: p.Name(), Op: "generate_structured", Err: err}
	}
	return json.RawMessage(collectText(msg)), usageFromAnthropic(msg), nil
}

func (p *AnthropicProvider) messageParams(prompt string, params GenerateParams) sdk.MessageNewParams {
	model := params.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	out := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if params.Temperature > 0 {
		out.Temperature = sdk.Float(params.Temperature)
	}
	if params.TopP > 0 {
		out.TopP = sdk.Float(params.TopP)
	}
	return out
}

func collectText(msg *sdk.Message) string {
	var text string
	for _, block := range msg.Content {
		if b := block.AsText(); b.Text != "" {
			text += b.Text
		}
	}
	return text
}

func usageFromAnthropic(msg *sdk.Message) Usage {
	return Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Model:            string(msg.Model),
	}
}
