// Package conversation manages chat sessions over collections: token-bounded
// context assembly, entity extraction, follow-up query augmentation, and
// atomic persistence of message pairs.
package conversation

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/tokens"
)

// ExtractionMethod selects how entities are pulled from conversation context.
type ExtractionMethod string

const (
	ExtractFast   ExtractionMethod = "fast"
	ExtractLLM    ExtractionMethod = "llm"
	ExtractHybrid ExtractionMethod = "hybrid"
)

// entityCacheSize bounds the per-manager extraction cache.
const entityCacheSize = 10

// maxEntities caps how many entities extraction returns.
const maxEntities = 10

// hybridWordThreshold is the context length above which hybrid extraction
// adds an LLM refinement pass on top of the fast results.
const hybridWordThreshold = 50

// BuildWindow selects the most recent messages whose summed token estimate
// fits maxTokens, then returns them in chronological order. messages must be
// in chronological order. A single over-budget message yields an empty
// window rather than a truncated message.
func BuildWindow(counter tokens.Counter, contents []string, maxTokens int) []string {
	if maxTokens <= 0 {
		return nil
	}
	budget := maxTokens
	var selected []string
	for i := len(contents) - 1; i >= 0; i-- {
		cost := counter.Count(contents[i])
		if cost > budget {
			break
		}
		budget -= cost
		selected = append(selected, contents[i])
	}
	// Reverse back to chronological order.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}

// entityExtractor caches extraction results keyed by (method, context hash).
type entityExtractor struct {
	generator llm.Generator
	params    llm.GenerateParams

	mu    sync.Mutex
	cache map[string][]string
	order []string
}

func newEntityExtractor(generator llm.Generator, params llm.GenerateParams) *entityExtractor {
	return &entityExtractor{
		generator: generator,
		params:    params,
		cache:     make(map[string][]string, entityCacheSize),
	}
}

// Extract returns the salient entities in the conversation context using the
// requested method. Results are cached; the cache holds at most ten entries
// and evicts the oldest.
func (e *entityExtractor) Extract(ctx context.Context, conversationContext string, method ExtractionMethod) ([]string, error) {
	key := cacheKey(method, conversationContext)

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	var entities []string
	var err error
	switch method {
	case ExtractFast:
		entities = extractFast(conversationContext)
	case ExtractLLM:
		entities, err = e.extractLLM(ctx, conversationContext)
	case ExtractHybrid:
		entities = e.extractHybrid(ctx, conversationContext)
	default:
		return nil, fmt.Errorf("unknown extraction method %q", method)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.order) >= entityCacheSize {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.cache, oldest)
	}
	e.cache[key] = entities
	e.order = append(e.order, key)
	e.mu.Unlock()

	return entities, nil
}

// extractHybrid always runs the fast pass. For contexts longer than
// hybridWordThreshold words the LLM refines the result; refinements merge
// after the fast entities and a refinement failure keeps the fast result.
func (e *entityExtractor) extractHybrid(ctx context.Context, conversationContext string) []string {
	entities := extractFast(conversationContext)
	if len(strings.Fields(conversationContext)) <= hybridWordThreshold {
		return entities
	}
	refined, err := e.extractLLM(ctx, conversationContext)
	if err != nil {
		return entities
	}
	return mergeEntities(entities, refined)
}

// mergeEntities appends additions not already present (case-insensitive),
// keeping the combined list within maxEntities.
func mergeEntities(base, additions []string) []string {
	seen := make(map[string]bool, len(base))
	for _, entity := range base {
		seen[strings.ToLower(entity)] = true
	}
	merged := base
	for _, entity := range additions {
		if len(merged) >= maxEntities {
			break
		}
		key := strings.ToLower(entity)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, entity)
	}
	return merged
}

func cacheKey(method ExtractionMethod, text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%s:%x", method, h.Sum64())
}

// extractFast pulls capitalized multi-word runs and quoted terms without
// touching the LLM.
func extractFast(text string) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(entity string) {
		entity = strings.TrimSpace(entity)
		if entity == "" || seen[strings.ToLower(entity)] || len(entities) >= maxEntities {
			return
		}
		seen[strings.ToLower(entity)] = true
		entities = append(entities, entity)
	}

	// Quoted terms first: they are explicit references.
	for _, quote := range []byte{'"', '\''} {
		parts := strings.Split(text, string(quote))
		for i := 1; i < len(parts); i += 2 {
			if len(parts[i]) > 2 && len(parts[i]) < 80 {
				add(parts[i])
			}
		}
	}

	// Capitalized runs. A run may start at a sentence boundary, but a lone
	// sentence-initial word is ordinary casing, not an entity.
	words := strings.Fields(text)
	var run []string
	fromSentenceStart := false
	flush := func() {
		if len(run) > 1 || (len(run) == 1 && !fromSentenceStart) {
			add(strings.Join(run, " "))
		}
		run = nil
	}
	sentenceStart := true
	for _, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		capitalized := trimmed != "" && unicode.IsUpper([]rune(trimmed)[0])
		if capitalized {
			if len(run) == 0 {
				fromSentenceStart = sentenceStart
			}
			run = append(run, trimmed)
		} else {
			flush()
		}
		sentenceStart = strings.ContainsAny(word, ".!?")
	}
	flush()
	return entities
}

func (e *entityExtractor) extractLLM(ctx context.Context, conversationContext string) ([]string, error) {
	prompt := fmt.Sprintf(
		"List the key entities (people, systems, concepts, documents) mentioned in this conversation, one per line, at most %d:\n\n%s",
		maxEntities, conversationContext)
	text, _, err := e.generator.Generate(ctx, prompt, e.params)
	if err != nil {
		return nil, err
	}

	var entities []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if line != "" {
			entities = append(entities, line)
			if len(entities) == maxEntities {
				break
			}
		}
	}
	return entities, nil
}

// followUpMarkers are pronouns and deictic phrases that signal the question
// depends on earlier turns.
var followUpMarkers = []string{
	"it", "this", "that", "these", "those", "they", "them",
	"the same", "the previous", "the above", "what about", "and also",
}

// NeedsAugmentation reports whether the question likely references earlier
// conversation turns.
func NeedsAugmentation(question string) bool {
	lower := " " + strings.ToLower(question) + " "
	for _, marker := range followUpMarkers {
		if strings.Contains(lower, " "+marker+" ") {
			return true
		}
	}
	return false
}

// AugmentQuery appends context entities to an ambiguous follow-up question.
// Unambiguous questions pass through untouched.
func AugmentQuery(question string, entities []string) string {
	if !NeedsAugmentation(question) || len(entities) == 0 {
		return question
	}
	limit := 3
	if len(entities) < limit {
		limit = len(entities)
	}
	return question + " (context: " + strings.Join(entities[:limit], ", ") + ")"
}
