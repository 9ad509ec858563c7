package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// ConversationService manages chat sessions and their messages. It implements
// conversation.Store.
type ConversationService struct {
	db *sql.DB

	defaultContextWindow int
	defaultMaxMessages   int
}

// NewConversationService creates a new ConversationService
func NewConversationService(db *sql.DB, defaultContextWindow, defaultMaxMessages int) *ConversationService {
	if defaultContextWindow < 1 {
		defaultContextWindow = 4000
	}
	if defaultMaxMessages < 1 {
		defaultMaxMessages = 50
	}
	return &ConversationService{
		db:                   db,
		defaultContextWindow: defaultContextWindow,
		defaultMaxMessages:   defaultMaxMessages,
	}
}

// CreateSession creates an active session over a collection.
func (s *ConversationService) CreateSession(ctx context.Context, userID string, req models.CreateSessionRequest) (*models.ConversationSession, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if req.CollectionID == "" {
		return nil, NewValidationError("collection_id", "required")
	}
	if strings.TrimSpace(req.SessionName) == "" {
		return nil, NewValidationError("session_name", "required")
	}
	if req.ContextWindowSize < 0 || req.MaxMessages < 0 {
		return nil, NewValidationError("context_window_size", "must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	now := time.Now()
	session := &models.ConversationSession{
		ID:                uuid.New().String(),
		UserID:            userID,
		CollectionID:      req.CollectionID,
		Name:              req.SessionName,
		Status:            models.SessionStatusActive,
		ContextWindowSize: req.ContextWindowSize,
		MaxMessages:       req.MaxMessages,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if session.ContextWindowSize == 0 {
		session.ContextWindowSize = s.defaultContextWindow
	}
	if session.MaxMessages == 0 {
		session.MaxMessages = s.defaultMaxMessages
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions (id, user_id, collection_id, name, status, context_window_size, max_messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		session.ID, session.UserID, session.CollectionID, session.Name, session.Status,
		session.ContextWindowSize, session.MaxMessages, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session, enforcing ownership.
func (s *ConversationService) GetSession(ctx context.Context, sessionID, userID string) (*models.ConversationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, collection_id, name, status, context_window_size, max_messages, created_at, updated_at
		FROM conversation_sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrForbidden
	}
	return session, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *ConversationService) ListSessions(ctx context.Context, userID string) ([]models.ConversationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, collection_id, name, status, context_window_size, max_messages, created_at, updated_at
		FROM conversation_sessions WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []models.ConversationSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus transitions a session's lifecycle status.
func (s *ConversationService) UpdateSessionStatus(ctx context.Context, sessionID, userID string, status models.SessionStatus) error {
	switch status {
	case models.SessionStatusActive, models.SessionStatusPaused,
		models.SessionStatusArchived, models.SessionStatusExpired:
	default:
		return NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET status = $1, updated_at = now() WHERE id = $2`, status, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return requireRow(res)
}

// AddMessage validates and persists one message in an active session.
func (s *ConversationService) AddMessage(ctx context.Context, sessionID, userID string, req models.AddMessageRequest) (*models.ConversationMessage, error) {
	msg, err := s.buildMessage(sessionID, req)
	if err != nil {
		return nil, err
	}
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !session.Writable() {
		return nil, ErrSessionNotWritable
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	if err := insertMessage(ctx, s.db, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AddMessagePair persists a user/assistant message pair atomically and
// touches the session. Either both messages land or neither does.
func (s *ConversationService) AddMessagePair(ctx context.Context, user, assistant models.ConversationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertMessage(ctx, tx, &user); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, &assistant); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversation_sessions SET updated_at = now() WHERE id = $1`, user.SessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns the most recent messages in chronological order.
// limit <= 0 returns everything.
func (s *ConversationService) ListMessages(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	query := `
		SELECT id, session_id, role, message_type, content, metadata, created_at
		FROM conversation_messages WHERE session_id = $1
		ORDER BY created_at DESC, id`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []models.ConversationMessage
	for rows.Next() {
		var msg models.ConversationMessage
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Type, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first query, chronological result.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *ConversationService) buildMessage(sessionID string, req models.AddMessageRequest) (*models.ConversationMessage, error) {
	if err := models.ValidateContent(req.Content); err != nil {
		return nil, NewValidationError("content", err.Error())
	}
	if !models.ValidRole(req.Role) {
		return nil, NewValidationError("role", fmt.Sprintf("unknown role %q", req.Role))
	}
	if !models.ValidMessageType(req.Type) {
		return nil, NewValidationError("message_type", fmt.Sprintf("unknown message type %q", req.Type))
	}

	msg := &models.ConversationMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      req.Role,
		Type:      req.Type,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	if req.Metadata != nil {
		msg.Metadata = *req.Metadata
	}
	return msg, nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *models.ConversationMessage) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode message metadata: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, role, message_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.SessionID, msg.Role, msg.Type, msg.Content, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func scanSession(row scanner) (*models.ConversationSession, error) {
	var session models.ConversationSession
	err := row.Scan(&session.ID, &session.UserID, &session.CollectionID, &session.Name,
		&session.Status, &session.ContextWindowSize, &session.MaxMessages,
		&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &session, nil
}
