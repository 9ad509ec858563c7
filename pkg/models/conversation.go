package models

import (
	"fmt"
	"time"
)

// MaxMessageContentLen bounds conversation message content.
const MaxMessageContentLen = 100_000

// SessionStatus is the lifecycle status of a conversation session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusPaused   SessionStatus = "paused"
	SessionStatusArchived SessionStatus = "archived"
	SessionStatusExpired  SessionStatus = "expired"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageType classifies a conversation message.
type MessageType string

const (
	MessageTypeQuestion      MessageType = "question"
	MessageTypeAnswer        MessageType = "answer"
	MessageTypeFollowUp      MessageType = "follow_up"
	MessageTypeClarification MessageType = "clarification"
	MessageTypeSystem        MessageType = "system_message"
)

// ConversationSession is a chat session over one collection. A session is
// writable only while active; max-messages and context-window-size are ≥ 1.
type ConversationSession struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	CollectionID      string        `json:"collection_id"`
	Name              string        `json:"name"`
	Status            SessionStatus `json:"status"`
	ContextWindowSize int           `json:"context_window_size"`
	MaxMessages       int           `json:"max_messages"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Writable reports whether the session accepts new messages.
func (s *ConversationSession) Writable() bool {
	return s.Status == SessionStatusActive
}

// MessageMetadata carries optional per-message annotations.
type MessageMetadata struct {
	SourceDocuments []string `json:"source_documents,omitempty"`
	CoTUsed         bool     `json:"cot_used,omitempty"`
	TokenCount      int      `json:"token_count,omitempty"`
	ExecutionTimeMS int64    `json:"execution_time_ms,omitempty"`
}

// ConversationMessage is one turn fragment within a session.
type ConversationMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      MessageRole     `json:"role"`
	Type      MessageType     `json:"message_type"`
	Content   string          `json:"content"`
	Metadata  MessageMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// ValidateContent checks the message-content bounds.
func ValidateContent(content string) error {
	if content == "" {
		return fmt.Errorf("content must not be empty")
	}
	if len(content) > MaxMessageContentLen {
		return fmt.Errorf("content exceeds maximum length of %d characters", MaxMessageContentLen)
	}
	return nil
}

// ValidRole reports whether r is a known message role.
func ValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeQuestion, MessageTypeAnswer, MessageTypeFollowUp,
		MessageTypeClarification, MessageTypeSystem:
		return true
	}
	return false
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	CollectionID      string `json:"collection_id"`
	SessionName       string `json:"session_name"`
	ContextWindowSize int    `json:"context_window_size,omitempty"`
	MaxMessages       int    `json:"max_messages,omitempty"`
}

// AddMessageRequest is the body of POST /sessions/{id}/messages.
type AddMessageRequest struct {
	Content  string           `json:"content"`
	Role     MessageRole      `json:"role"`
	Type     MessageType      `json:"message_type"`
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}
