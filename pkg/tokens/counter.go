// Package tokens samples LLM usage, estimates token counts, and emits
// context-window warnings at the 70/85/95% thresholds.
package tokens

import "strings"

// Counter estimates the token count of a text. The exact tokenizer is
// model-specific; implementations must be consistent within a deployment
// because window accounting and conversation truncation both use it.
type Counter interface {
	Count(text string) int
}

// EstimateCounter is the default Counter: ceil(len/4) characters per token.
// This is the common rough estimate for BPE vocabularies; plug in a real
// tokenizer via the Counter interface when exact counts matter.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// DefaultContextWindow is the fallback window for unknown models.
const DefaultContextWindow = 4096

// modelWindows maps known model identifiers to their context windows.
var modelWindows = map[string]int{
	"gpt-4o":                     128000,
	"gpt-4o-mini":                128000,
	"gpt-4-turbo":                128000,
	"gpt-3.5-turbo":              16385,
	"claude-sonnet-4-5":          200000,
	"claude-haiku-4-5":           200000,
	"llama-3-8b-instruct":        8192,
	"mistral-7b-instruct":        32768,
	"granite-13b-chat":           8192,
}

// ContextWindow returns the context window for a model, matching on exact id
// first and then on prefix so dated releases resolve to their family.
func ContextWindow(model string) int {
	if w, ok := modelWindows[model]; ok {
		return w
	}
	for prefix, w := range modelWindows {
		if strings.HasPrefix(model, prefix) {
			return w
		}
	}
	return DefaultContextWindow
}
