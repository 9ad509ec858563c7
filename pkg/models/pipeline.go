package models

import "time"

// LLMParameters holds per-pipeline generation parameters.
type LLMParameters struct {
	ID                string  `json:"id"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// PromptTemplateType distinguishes the two templates a pipeline binds.
type PromptTemplateType string

const (
	PromptTemplateRAG                PromptTemplateType = "rag"
	PromptTemplateQuestionGeneration PromptTemplateType = "question_generation"
)

// PromptTemplate is a named template with {context} / {question} placeholders.
type PromptTemplate struct {
	ID       string             `json:"id"`
	Type     PromptTemplateType `json:"type"`
	Template string             `json:"template"`
}

// Pipeline is a per-user binding of provider, model, LLM parameters, and
// prompt templates used at query time. Exactly one pipeline per user may be
// flagged default; it is resolved implicitly on each query.
type Pipeline struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Parameters       LLMParameters `json:"parameters"`
	RAGTemplateID    string        `json:"rag_template_id"`
	QuestionTemplate string        `json:"question_template_id"`
	IsDefault        bool          `json:"is_default"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
