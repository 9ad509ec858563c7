package models

import "sort"

// AnswerFormat tags the shape of a structured answer.
type AnswerFormat string

const (
	AnswerFormatStandard     AnswerFormat = "standard"
	AnswerFormatCoTReasoning AnswerFormat = "cot_reasoning"
)

// Excerpt length bounds for citations.
const (
	CitationExcerptMinLen = 20
	CitationExcerptMaxLen = 500
)

// Citation references a passage in the retrieval context that supports an
// answer. Excerpt length is bounded to [20, 500] characters and the
// relevance score lies in [0,1].
type Citation struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title,omitempty"`
	Excerpt        string  `json:"excerpt"`
	Page           int     `json:"page,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	ChunkID        string  `json:"chunk_id,omitempty"`
}

// ReasoningStep is one step of chain-of-thought reasoning. Steps are numbered
// sequentially from 1.
type ReasoningStep struct {
	StepNumber int    `json:"step_number"`
	Thought    string `json:"thought"`
	Conclusion string `json:"conclusion"`
}

// StructuredAnswer is an answer together with grounded citations, a
// confidence in [0,1], and optional reasoning steps.
type StructuredAnswer struct {
	Answer         string          `json:"answer"`
	Citations      []Citation      `json:"citations"`
	Confidence     float64         `json:"confidence"`
	ReasoningSteps []ReasoningStep `json:"reasoning_steps,omitempty"`
	Format         AnswerFormat    `json:"format"`
}

// DedupeCitations merges citations that share (document-id, chunk-id, page),
// keeping the one with the highest relevance score. Relative order of the
// surviving citations follows their first occurrence.
func DedupeCitations(citations []Citation) []Citation {
	type key struct {
		doc   string
		chunk string
		page  int
	}
	best := make(map[key]int, len(citations)) // key → index into result
	result := make([]Citation, 0, len(citations))
	for _, c := range citations {
		k := key{doc: c.DocumentID, chunk: c.ChunkID, page: c.Page}
		if i, seen := best[k]; seen {
			if c.RelevanceScore > result[i].RelevanceScore {
				result[i] = c
			}
			continue
		}
		best[k] = len(result)
		result = append(result, c)
	}
	return result
}

// SortCitations orders citations by relevance score descending, breaking ties
// by document-id ascending. Attribution relies on this being deterministic.
func SortCitations(citations []Citation) {
	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].RelevanceScore != citations[j].RelevanceScore {
			return citations[i].RelevanceScore > citations[j].RelevanceScore
		}
		return citations[i].DocumentID < citations[j].DocumentID
	})
}
