package validation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
)

// Attribution thresholds.
const (
	// SemanticThreshold is the minimum max-cosine similarity between a chunk
	// and any answer sentence for the semantic strategy to keep the chunk.
	SemanticThreshold = 0.75
	// JaccardThreshold is the minimum token overlap for the lexical fallback.
	JaccardThreshold = 0.30
)

// AttributionService assigns citations to an already-generated answer from
// retrieved chunks, without calling the LLM. Semantic similarity is tried
// first; lexical Jaccard overlap is the fallback.
type AttributionService struct {
	embedder llm.Embedder
	logger   *slog.Logger
}

// NewAttributionService creates an AttributionService. A nil embedder skips
// the semantic strategy and goes straight to lexical overlap.
func NewAttributionService(embedder llm.Embedder) *AttributionService {
	return &AttributionService{embedder: embedder, logger: slog.Default()}
}

// Attribute derives at most maxCitations citations for the answer. Citations
// are ordered by similarity descending, then document-id ascending, and
// deduplicated by (document-id, chunk-id, page).
func (s *AttributionService) Attribute(ctx context.Context, answer string,
	chunks []models.QueryResult, maxCitations int) ([]models.Citation, error) {

	if strings.TrimSpace(answer) == "" || len(chunks) == 0 {
		return nil, fmt.Errorf("attribution requires a non-empty answer and context chunks")
	}
	if maxCitations <= 0 {
		maxCitations = 5
	}

	if s.embedder != nil {
		citations, err := s.semantic(ctx, answer, chunks, maxCitations)
		if err != nil {
			s.logger.Warn("Semantic attribution unavailable, falling back to lexical overlap", "error", err)
		} else if len(citations) > 0 {
			return citations, nil
		}
	}

	citations := s.lexical(answer, chunks, maxCitations)
	if len(citations) == 0 {
		return nil, fmt.Errorf("no chunk met the lexical overlap threshold %.2f", JaccardThreshold)
	}
	return citations, nil
}

// semantic keeps chunks whose maximum cosine similarity against any answer
// sentence is at least SemanticThreshold.
func (s *AttributionService) semantic(ctx context.Context, answer string,
	chunks []models.QueryResult, maxCitations int) ([]models.Citation, error) {

	sentences := splitSentences(answer)
	if len(sentences) == 0 {
		sentences = []string{answer}
	}

	texts := make([]string, 0, len(sentences)+len(chunks))
	texts = append(texts, sentences...)
	for _, result := range chunks {
		texts = append(texts, result.Chunk.Text)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	sentenceVecs := vectors[:len(sentences)]
	chunkVecs := vectors[len(sentences):]

	type scoredChunk struct {
		result models.QueryResult
		score  float64
	}
	var kept []scoredChunk
	for i, result := range chunks {
		best := 0.0
		for _, sv := range sentenceVecs {
			if sim := cosine32(chunkVecs[i], sv); sim > best {
				best = sim
			}
		}
		if best >= SemanticThreshold {
			kept = append(kept, scoredChunk{result: result, score: best})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].result.Chunk.DocumentID < kept[j].result.Chunk.DocumentID
	})
	if len(kept) > maxCitations {
		kept = kept[:maxCitations]
	}

	citations := make([]models.Citation, 0, len(kept))
	for _, sc := range kept {
		citations = append(citations, s.buildCitation(answer, sc.result.Chunk, sc.score))
	}
	return models.DedupeCitations(citations), nil
}

// lexical keeps chunks whose token Jaccard overlap with the answer is at
// least JaccardThreshold.
func (s *AttributionService) lexical(answer string, chunks []models.QueryResult, maxCitations int) []models.Citation {
	answerTokens := tokenSet(answer)

	type scoredChunk struct {
		result models.QueryResult
		score  float64
	}
	var kept []scoredChunk
	for _, result := range chunks {
		overlap := jaccard(answerTokens, tokenSet(result.Chunk.Text))
		if overlap >= JaccardThreshold {
			kept = append(kept, scoredChunk{result: result, score: overlap})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].result.Chunk.DocumentID < kept[j].result.Chunk.DocumentID
	})
	if len(kept) > maxCitations {
		kept = kept[:maxCitations]
	}

	citations := make([]models.Citation, 0, len(kept))
	for _, sc := range kept {
		citations = append(citations, s.buildCitation(answer, sc.result.Chunk, sc.score))
	}
	return models.DedupeCitations(citations)
}

// buildCitation selects the excerpt: the chunk sentence with the greatest
// word overlap against the answer, bounded to [20, 500] characters, falling
// back to the chunk prefix.
func (s *AttributionService) buildCitation(answer string, chunk models.Chunk, score float64) models.Citation {
	excerpt := selectExcerpt(answer, chunk.Text)
	return models.Citation{
		DocumentID:     chunk.DocumentID,
		Excerpt:        excerpt,
		Page:           chunk.Page,
		RelevanceScore: clamp01(score),
		ChunkID:        chunk.ID,
	}
}

func selectExcerpt(answer, chunkText string) string {
	answerTokens := tokenSet(answer)

	var best string
	bestOverlap := 0
	for _, sentence := range splitSentences(chunkText) {
		if len(sentence) < models.CitationExcerptMinLen || len(sentence) > models.CitationExcerptMaxLen {
			continue
		}
		overlap := 0
		for token := range tokenSet(sentence) {
			if answerTokens[token] {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = sentence
		}
	}
	if best != "" {
		return best
	}
	if len(chunkText) > models.CitationExcerptMaxLen {
		return chunkText[:models.CitationExcerptMaxLen]
	}
	return chunkText
}

// splitSentences splits text on sentence-terminating punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]")
		if token != "" {
			set[token] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func cosine32(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
