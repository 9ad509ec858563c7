package models

import "time"

// TokenWarningKind identifies why a token warning was emitted.
type TokenWarningKind string

const (
	WarningApproachingLimit    TokenWarningKind = "approaching_limit"
	WarningAtLimit             TokenWarningKind = "at_limit"
	WarningConversationTooLong TokenWarningKind = "conversation_too_long"
)

// TokenWarningSeverity orders warnings by urgency.
type TokenWarningSeverity string

const (
	SeverityInfo     TokenWarningSeverity = "info"
	SeverityWarning  TokenWarningSeverity = "warning"
	SeverityCritical TokenWarningSeverity = "critical"
)

// Suggested actions attached to token warnings.
const (
	ActionStartNewSession    = "start_new_session"
	ActionConsiderNewSession = "consider_new_session"
)

// TokenUsage is the usage sample reported by one LLM call.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	// ContextTokens, when non-zero, overrides PromptTokens for window
	// accounting (e.g. when the prompt was truncated upstream).
	ContextTokens int `json:"context_tokens,omitempty"`
}

// TokenWarning is emitted when a session or prompt approaches its model's
// context window.
type TokenWarning struct {
	ID              string               `json:"id"`
	SessionID       string               `json:"session_id,omitempty"`
	UserID          string               `json:"user_id,omitempty"`
	Kind            TokenWarningKind     `json:"kind"`
	CurrentTokens   int                  `json:"current_tokens"`
	LimitTokens     int                  `json:"limit_tokens"`
	Percentage      float64              `json:"percentage"`
	Severity        TokenWarningSeverity `json:"severity"`
	SuggestedAction string               `json:"suggested_action,omitempty"`
	Acknowledged    bool                 `json:"acknowledged"`
	CreatedAt       time.Time            `json:"created_at"`
}

// SuggestedQuestion is a follow-up question generated after a search.
type SuggestedQuestion struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Question     string    `json:"question"`
	CreatedAt    time.Time `json:"created_at"`
}
